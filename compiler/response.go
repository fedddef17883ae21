package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/errors"
)

// Response is the module's answer. Exactly one of CMR and Error is set.
type Response struct {
	CMR   *string
	Error *string
	// Witness is the witness object the module echoed, if any.
	Witness json.RawMessage
	// CodeBase64 is the module's own encoding of the source, if it reports one.
	CodeBase64 *string
}

// DecodeResponse parses raw module output. Output that is not a JSON
// object, has fields of the wrong type, or does not carry exactly one of
// cmr and error is a ProtocolViolation. Empty strings count as absent.
func DecodeResponse(raw string) (*Response, error) {
	var wire map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, errors.ProtocolViolation("response is not a JSON object", raw, err)
	}
	if wire == nil {
		return nil, errors.ProtocolViolation("response is null", raw, nil)
	}

	var (
		resp Response
		err  error
	)
	if resp.CMR, err = optionalString(wire, bridge.FieldCMR); err != nil {
		return nil, errors.ProtocolViolation(err.Error(), raw, nil)
	}
	if resp.Error, err = optionalString(wire, bridge.FieldError); err != nil {
		return nil, errors.ProtocolViolation(err.Error(), raw, nil)
	}
	if resp.CodeBase64, err = optionalString(wire, bridge.FieldCodeBase64); err != nil {
		return nil, errors.ProtocolViolation(err.Error(), raw, nil)
	}
	if w, ok := wire[bridge.FieldWitness]; ok && !isNull(w) {
		if !bytes.HasPrefix(bytes.TrimSpace(w), []byte("{")) {
			return nil, errors.ProtocolViolation("witness is not an object", raw, nil)
		}
		resp.Witness = w
	}

	switch {
	case resp.CMR == nil && resp.Error == nil:
		return nil, errors.ProtocolViolation("response has neither cmr nor error", raw, nil)
	case resp.CMR != nil && resp.Error != nil:
		return nil, errors.ProtocolViolation("response has both cmr and error", raw, nil)
	}
	return &resp, nil
}

func optionalString(wire map[string]json.RawMessage, field string) (*string, error) {
	v, ok := wire[field]
	if !ok || isNull(v) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("%s is not a string", field)
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
