package compiler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	bridge "github.com/wippyai/simplicity-bridge"
	bridgeerrors "github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/runtime"
	"github.com/wippyai/simplicity-bridge/testbed"
)

// recorder is a fake module that records every call it receives.
type recorder struct {
	reply string
	err   error
	calls []runtime.Call
}

func (r *recorder) Invoke(_ context.Context, call runtime.Call) (string, error) {
	r.calls = append(r.calls, call)
	return r.reply, r.err
}

func TestParseWitness(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Witness
		wantErr string
	}{
		{name: "absent", text: ""},
		{name: "whitespace", text: "  \n\t"},
		{name: "empty object", text: "{}", want: Witness{}},
		{
			name: "typed",
			text: `{"VALUE": {"value": "0x2a", "type": "u8"}}`,
			want: Witness{"VALUE": {Value: "0x2a", Type: "u8"}},
		},
		{
			name: "untyped",
			text: `{"VALUE": {"value": "42"}}`,
			want: Witness{"VALUE": {Value: "42"}},
		},
		{name: "not json", text: `{"a":`, wantErr: "invalid JSON"},
		{name: "array", text: `[1]`, wantErr: "must be a JSON object"},
		{name: "string", text: `"x"`, wantErr: "must be a JSON object"},
		{name: "duplicate", text: `{"a":{"value":"1"},"a":{"value":"2"}}`, wantErr: "duplicate variable"},
		{name: "descriptor not object", text: `{"a":"1"}`, wantErr: "descriptor must be an object"},
		{name: "missing value", text: `{"a":{"type":"u8"}}`, wantErr: "at a.value: missing"},
		{name: "number value", text: `{"a":{"value":42}}`, wantErr: "at a.value: must be a string"},
		{name: "null type", text: `{"a":{"value":"1","type":null}}`, wantErr: "at a.type: must be a string"},
		{name: "duplicate value", text: `{"a":{"value":"1","value":"2"}}`, wantErr: "at a.value: duplicate field"},
		{name: "duplicate type", text: `{"a":{"value":"1","type":"u8","type":"u16"}}`, wantErr: "at a.type: duplicate field"},
		{name: "descriptor array", text: `{"a":[{"value":"1"}]}`, wantErr: "descriptor must be an object"},
		{name: "unknown field", text: `{"a":{"value":"1","unit":"sat"}}`, wantErr: "at a.unit: unknown field"},
		{name: "empty name", text: `{"":{"value":"1"}}`, wantErr: "variable name is empty"},
		{name: "trailing data", text: `{} {}`, wantErr: "unexpected data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWitness(tt.text)
			if tt.wantErr != "" {
				if !errors.Is(err, bridgeerrors.ErrWitnessValidation) {
					t.Fatalf("err = %v, want WitnessValidation", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("err = %q, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if (got == nil) != (tt.want == nil) || len(got) != len(tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %+v, want %+v", k, got[k], v)
				}
			}
		})
	}
}

func TestWitness_Encode(t *testing.T) {
	w, err := ParseWitness(`{ "b": {"type": "u8", "value": "1"},
		"a": {"value": "2"} }`)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":{"value":"2"},"b":{"value":"1","type":"u8"}}`
	if got := string(w.Encode()); got != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
	if names := w.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
	if Witness(nil).Encode() != nil {
		t.Error("nil witness encoded to non-nil")
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		cmr     string
		errMsg  string
		witness string
		code    string
		wantErr string
	}{
		{name: "success", raw: testbed.ResponseOK, cmr: testbed.CMR},
		{name: "compiler error", raw: testbed.ResponseEmpty, errMsg: "Code is empty"},
		{name: "fields omitted", raw: `{"error":"bad"}`, errMsg: "bad"},
		{name: "empty cmr is absent", raw: `{"cmr":"","error":"bad"}`, errMsg: "bad"},
		{name: "empty error is absent", raw: `{"cmr":"ab","error":""}`, cmr: "ab"},
		{name: "witness", raw: `{"cmr":"ab","witness":{"x":{"value":"1"}}}`, cmr: "ab", witness: `{"x":{"value":"1"}}`},
		{name: "null witness", raw: `{"cmr":"ab","witness":null}`, cmr: "ab"},
		{name: "code base64", raw: `{"cmr":"ab","code_base64":"bW9k"}`, cmr: "ab", code: "bW9k"},
		{name: "unknown fields ignored", raw: `{"cmr":"ab","elapsed_ms":3}`, cmr: "ab"},
		{name: "garbage", raw: testbed.ResponseGarbage, wantErr: "not a JSON object"},
		{name: "array", raw: `[]`, wantErr: "not a JSON object"},
		{name: "null", raw: `null`, wantErr: "response is null"},
		{name: "both", raw: testbed.ResponseBoth, wantErr: "both cmr and error"},
		{name: "neither", raw: `{"cmr":null,"error":null}`, wantErr: "neither cmr nor error"},
		{name: "cmr not string", raw: `{"cmr":12}`, wantErr: "cmr is not a string"},
		{name: "witness not object", raw: `{"cmr":"ab","witness":"x"}`, wantErr: "witness is not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(tt.raw)
			if tt.wantErr != "" {
				if !errors.Is(err, bridgeerrors.ErrProtocolViolation) {
					t.Fatalf("err = %v, want ProtocolViolation", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("err = %q, want it to contain %q", err, tt.wantErr)
				}
				var e *bridgeerrors.Error
				if errors.As(err, &e) && e.Value != tt.raw {
					t.Errorf("raw response not kept: %v", e.Value)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := deref(resp.CMR); got != tt.cmr {
				t.Errorf("cmr = %q, want %q", got, tt.cmr)
			}
			if got := deref(resp.Error); got != tt.errMsg {
				t.Errorf("error = %q, want %q", got, tt.errMsg)
			}
			if got := string(resp.Witness); got != tt.witness {
				t.Errorf("witness = %s, want %s", got, tt.witness)
			}
			if got := deref(resp.CodeBase64); got != tt.code {
				t.Errorf("code_base64 = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestCompile_MalformedWitnessNeverReachesModule(t *testing.T) {
	for _, witness := range []string{`{"a":`, `[1,2]`, `{"a":{"value":1}}`, `{"a":{"value":"1"},"a":{"value":"1"}}`} {
		mod := &recorder{reply: testbed.ResponseOK}
		_, err := Compile(context.Background(), mod, Request{Source: bridge.DefaultSource, WitnessData: witness})
		if !errors.Is(err, bridgeerrors.ErrWitnessValidation) {
			t.Errorf("%s: err = %v, want WitnessValidation", witness, err)
		}
		if len(mod.calls) != 0 {
			t.Errorf("%s: module invoked %d times", witness, len(mod.calls))
		}
	}
}

func TestCompile_PassesCanonicalWitness(t *testing.T) {
	mod := &recorder{reply: testbed.ResponseOK}
	resp, err := Compile(context.Background(), mod, Request{
		Source:      "mod x",
		WitnessData: `{ "v": { "value": "1", "type": "u8" } }`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(mod.calls) != 1 {
		t.Fatalf("calls = %d", len(mod.calls))
	}
	want := `{"v":{"value":"1","type":"u8"}}`
	if got := string(mod.calls[0].Witness); got != want {
		t.Errorf("module saw witness %s, want %s", got, want)
	}
	if string(resp.Witness) != want {
		t.Errorf("echoed witness = %s, want %s", resp.Witness, want)
	}
}

func TestCompile_NoEchoOnCompilerError(t *testing.T) {
	mod := &recorder{reply: testbed.ResponseMissingModule}
	resp, err := Compile(context.Background(), mod, Request{Source: "fn main() {}", WitnessData: `{"v":{"value":"1"}}`})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Witness != nil {
		t.Errorf("witness echoed on failure: %s", resp.Witness)
	}
}

func TestCompile_Failures(t *testing.T) {
	tests := []struct {
		name string
		mod  *recorder
		req  Request
		want error
	}{
		{
			name: "invalid utf-8",
			mod:  &recorder{reply: testbed.ResponseOK},
			req:  Request{Source: "mod \xff"},
			want: bridgeerrors.ErrInvalidInput,
		},
		{
			name: "module trap",
			mod:  &recorder{err: bridgeerrors.Invocation("call compile_simplicity", errors.New("unreachable"))},
			req:  Request{Source: "mod"},
			want: bridgeerrors.ErrInvocationFailure,
		},
		{
			name: "garbage response",
			mod:  &recorder{reply: testbed.ResponseGarbage},
			req:  Request{Source: "mod"},
			want: bridgeerrors.ErrProtocolViolation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(context.Background(), tt.mod, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	n := &Normalizer{Mode: bridge.ModeDebug, Now: func() time.Time { return fixed }}

	cmr := testbed.CMR
	req := Request{Source: "mod param {}\nfn main() {}", WitnessData: `{"a":{"value":"1"},"b":{"value":"2"}}`}
	res := n.Normalize(&Response{CMR: &cmr, Witness: json.RawMessage(`{"a":{"value":"1"}}`)}, req)

	if !res.Succeeded() || *res.CMR != cmr || res.Error != nil {
		t.Fatalf("result = %+v", res)
	}
	if string(res.Witness) != `{"a":{"value":"1"}}` {
		t.Errorf("witness = %s", res.Witness)
	}
	want := Metadata{
		Timestamp:        fixed.UTC(),
		Mode:             bridge.ModeDebug,
		SourceSizeBytes:  len(req.Source),
		SourceLines:      2,
		HasWitness:       true,
		WitnessVariables: 2,
	}
	if res.Metadata != want {
		t.Errorf("metadata = %+v, want %+v", res.Metadata, want)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", res.Diagnostics)
	}
}

func TestNormalize_ErrorClearsCMRAndWitness(t *testing.T) {
	msg := "Parse error"
	res := NewNormalizer("").Normalize(&Response{Error: &msg, Witness: json.RawMessage(`{}`)}, Request{Source: "x"})
	if res.Error == nil || *res.Error != msg {
		t.Fatalf("error = %v", res.Error)
	}
	if res.CMR != nil || res.Witness != nil {
		t.Errorf("error result carries cmr=%v witness=%s", res.CMR, res.Witness)
	}
	if res.Metadata.Mode != bridge.ModeRelease {
		t.Errorf("mode = %q", res.Metadata.Mode)
	}
	if res.Metadata.HasWitness || res.Metadata.WitnessVariables != 0 {
		t.Errorf("metadata = %+v", res.Metadata)
	}
}

func TestNormalize_Base64(t *testing.T) {
	cmr := "ab"
	n := NewNormalizer(bridge.ModeRelease)
	for _, src := range []string{"", "mod param {}\nfn main() {}", "ünïcödé ✓", "\x00\x01 binary-ish", strings.Repeat("x", 4097)} {
		res := n.Normalize(&Response{CMR: &cmr}, Request{Source: src})
		dec, err := base64.StdEncoding.DecodeString(res.Base64)
		if err != nil {
			t.Fatalf("%q: %v", src, err)
		}
		if string(dec) != src {
			t.Errorf("round trip of %q gave %q", src, dec)
		}
		if res.Metadata.SourceSizeBytes != len(src) {
			t.Errorf("size = %d, want %d", res.Metadata.SourceSizeBytes, len(src))
		}
	}
}

func TestNormalize_Consistency(t *testing.T) {
	cmr := "ab"
	n := NewNormalizer(bridge.ModeRelease)
	src := "mod param {}"
	good := base64.StdEncoding.EncodeToString([]byte(src))
	bad := base64.URLEncoding.EncodeToString([]byte("other"))

	res := n.Normalize(&Response{CMR: &cmr, CodeBase64: &good}, Request{Source: src})
	if len(res.Diagnostics) != 0 {
		t.Errorf("agreeing encodings reported: %v", res.Diagnostics)
	}

	res = n.Normalize(&Response{CMR: &cmr, CodeBase64: &bad}, Request{Source: src})
	if len(res.Diagnostics) != 1 || !errors.Is(res.Diagnostics[0], bridgeerrors.ErrConsistency) {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	if res.Base64 != good || res.CMR == nil {
		t.Errorf("disagreement altered the result: %+v", res)
	}
}

func TestResult_JSON(t *testing.T) {
	msg := "Code is empty"
	n := &Normalizer{Mode: bridge.ModeRelease, Now: func() time.Time { return time.Unix(0, 0) }}
	res := n.Normalize(&Response{Error: &msg}, Request{})
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"cmr":null,"error":"Code is empty","base64":"","metadata":{"timestamp":"1970-01-01T00:00:00Z","mode":"release","sourceSizeBytes":0,"sourceLines":1,"hasWitness":false,"witnessVariables":0}}`
	if string(b) != want {
		t.Errorf("json = %s\nwant   %s", b, want)
	}
}

func TestScenarios_RealModule(t *testing.T) {
	ctx := context.Background()
	h, err := runtime.New(runtime.Config{}).Instantiate(ctx, testbed.Payload(testbed.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close(ctx)
	n := NewNormalizer(bridge.ModeRelease)

	t.Run("valid program", func(t *testing.T) {
		req := Request{Source: "mod param {}\nfn main() {}"}
		resp, err := Compile(ctx, h, req)
		if err != nil {
			t.Fatal(err)
		}
		res := n.Normalize(resp, req)
		if res.CMR == nil || *res.CMR != testbed.CMR || res.Error != nil {
			t.Fatalf("result = %+v", res)
		}
		if res.Base64 != base64.StdEncoding.EncodeToString([]byte(req.Source)) {
			t.Errorf("base64 = %s", res.Base64)
		}
	})

	t.Run("missing module declaration", func(t *testing.T) {
		req := Request{Source: "fn main() {}"}
		resp, err := Compile(ctx, h, req)
		if err != nil {
			t.Fatal(err)
		}
		res := n.Normalize(resp, req)
		if res.CMR != nil || res.Error == nil || !strings.Contains(*res.Error, "module") {
			t.Fatalf("result = %+v", res)
		}
	})

	t.Run("witness echoed", func(t *testing.T) {
		req := Request{Source: "mod x", WitnessData: `{"v":{"value":"1"}}`}
		resp, err := Compile(ctx, h, req)
		if err != nil {
			t.Fatal(err)
		}
		if string(resp.Witness) != `{"v":{"value":"1"}}` {
			t.Errorf("witness = %s", resp.Witness)
		}
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
