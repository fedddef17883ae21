// Package errors provides the structured error taxonomy of the compilation bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (what
// went wrong). The Kind decides how a failure propagates:
//
//	asset_missing, asset_ambiguous   registry, fatal at startup
//	encoding_failure                 asset encoder, fatal at startup
//	instantiation_failure            fatal to the session, never retried
//	invocation_failure               recoverable, per call
//	witness_validation               recoverable, per call, never reaches the module
//	protocol_violation               module response malformed, per call
//	consistency                      normalizer disagreement, non-fatal
//
// A compiler-reported error is not an Error at all: it is a successful round
// trip carrying a negative compilation outcome.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseValidate, errors.KindWitnessValidation).
//		Path("VALUE", "type").
//		Detail("expected string").
//		Build()
//
// Match by kind with the standard library helpers:
//
//	if errors.Is(err, errors.ErrAssetMissing) { ... }
//	if errors.IsStartup(err) { ... }
package errors
