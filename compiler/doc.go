// Package compiler holds the request and result model of the bridge and
// the two steps between a host and a module: Compile validates a request,
// invokes the module and decodes its answer; Normalizer reshapes that
// answer into the Result every host presents.
//
// A compiler-reported error is an ordinary Result with Error set. Failures
// of the bridge itself are returned as errors:
//
//	WitnessValidation   malformed witness, module never called
//	InvocationFailure   module trapped, threw or timed out
//	ProtocolViolation   module output did not match the response shape
//
// Consistency problems found while normalizing do not fail the request;
// they are attached to Result.Diagnostics.
package compiler
