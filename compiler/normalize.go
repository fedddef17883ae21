package compiler

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/errors"
)

// Result is the normalized outcome every host presents. When Error is set,
// CMR and Witness are nil.
type Result struct {
	CMR      *string         `json:"cmr"`
	Error    *string         `json:"error"`
	Witness  json.RawMessage `json:"witness,omitempty"`
	Base64   string          `json:"base64"`
	Metadata Metadata        `json:"metadata"`

	// Diagnostics holds non-fatal disagreements between the module and
	// the normalizer, kept for debugging.
	Diagnostics []*errors.Error `json:"-"`
}

// Metadata describes the request a Result answers.
type Metadata struct {
	Timestamp        time.Time `json:"timestamp"`
	Mode             string    `json:"mode"`
	SourceSizeBytes  int       `json:"sourceSizeBytes"`
	SourceLines      int       `json:"sourceLines"`
	HasWitness       bool      `json:"hasWitness"`
	WitnessVariables int       `json:"witnessVariables"`
}

// Succeeded reports whether the compiler produced a CMR.
func (r *Result) Succeeded() bool { return r.CMR != nil }

// Normalizer turns responses into Results.
type Normalizer struct {
	// Mode is reported verbatim in metadata.
	Mode string
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewNormalizer creates a normalizer reporting mode. An empty mode means
// release.
func NewNormalizer(mode string) *Normalizer {
	if mode == "" {
		mode = bridge.ModeRelease
	}
	return &Normalizer{Mode: mode, Now: time.Now}
}

// Normalize builds the Result for resp answering req. The source encoding
// is computed here; if the module reported its own and it differs, a
// Consistency diagnostic is attached and logged.
func (n *Normalizer) Normalize(resp *Response, req Request) *Result {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}

	res := &Result{
		Base64: base64.StdEncoding.EncodeToString([]byte(req.Source)),
		Metadata: Metadata{
			Timestamp:       now().UTC(),
			Mode:            n.Mode,
			SourceSizeBytes: len(req.Source),
			SourceLines:     strings.Count(req.Source, "\n") + 1,
		},
	}
	// ParseWitness already ran in Compile; a failure here cannot happen
	// for requests that reached the module.
	if w, err := ParseWitness(req.WitnessData); err == nil && w != nil {
		res.Metadata.HasWitness = true
		res.Metadata.WitnessVariables = len(w)
	}

	if resp.Error != nil {
		res.Error = resp.Error
	} else {
		res.CMR = resp.CMR
		res.Witness = resp.Witness
	}

	if resp.CodeBase64 != nil && *resp.CodeBase64 != res.Base64 {
		d := errors.Consistency(bridge.FieldCodeBase64, res.Base64, *resp.CodeBase64)
		res.Diagnostics = append(res.Diagnostics, d)
		Logger().Warn("module and normalizer disagree",
			zap.String("field", bridge.FieldCodeBase64),
			zap.Error(d))
	}
	return res
}
