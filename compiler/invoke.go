package compiler

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/runtime"
)

// Request is one compilation request. WitnessData is the witness document
// as JSON text; empty means no witness.
type Request struct {
	Source      string
	WitnessData string
}

// Target runs a call on a compiler module. Both *session.Session and
// runtime.Handle satisfy it.
type Target interface {
	Invoke(ctx context.Context, call runtime.Call) (string, error)
}

// Compile validates req, sends it to target, and decodes the answer. A
// malformed witness fails before target is called.
//
// When the request carries a witness and the module succeeds without
// reporting one, the validated witness is echoed in the response.
func Compile(ctx context.Context, target Target, req Request) (*Response, error) {
	if !utf8.ValidString(req.Source) {
		return nil, errors.InvalidInput(errors.PhaseValidate, "source is not valid UTF-8")
	}
	w, err := ParseWitness(req.WitnessData)
	if err != nil {
		return nil, err
	}

	call := runtime.Call{Source: req.Source, Witness: w.Encode()}
	raw, err := target.Invoke(ctx, call)
	if err != nil {
		return nil, err
	}

	resp, err := DecodeResponse(raw)
	if err != nil {
		Logger().Error("module returned a malformed response",
			zap.Int("source_bytes", len(req.Source)),
			zap.Error(err))
		return nil, err
	}
	if resp.Error != nil {
		Logger().Debug("compiler reported an error", zap.String("error", *resp.Error))
	}
	if w != nil && resp.CMR != nil && resp.Witness == nil {
		resp.Witness = call.Witness
	}
	return resp, nil
}
