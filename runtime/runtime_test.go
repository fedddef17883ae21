package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	bridgeerrors "github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/payload"
	"github.com/wippyai/simplicity-bridge/testbed"
	"github.com/wippyai/simplicity-bridge/wasm"
)

func instantiate(t *testing.T, o testbed.Options) *Instance {
	t.Helper()
	ctx := context.Background()
	h, err := New(Config{}).Instantiate(ctx, testbed.Payload(o))
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { _ = h.Close(ctx) })
	return h.(*Instance)
}

func TestInvoke_Conventions(t *testing.T) {
	tests := []struct {
		name string
		conv testbed.Convention
		want Convention
	}{
		{"multi-value", testbed.MultiValue, MultiValue},
		{"return pointer", testbed.ReturnPointer, ReturnPointer},
		{"packed", testbed.Packed, Packed},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := instantiate(t, testbed.Options{Convention: tt.conv})
			if inst.Binding().Compile != tt.want {
				t.Fatalf("convention = %s, want %s", inst.Binding().Compile, tt.want)
			}

			got, err := inst.Invoke(ctx, Call{Source: "mod param {}\nfn main() {}"})
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if got != testbed.ResponseOK {
				t.Errorf("response = %s", got)
			}

			got, err = inst.Invoke(ctx, Call{Source: "fn main() {}"})
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if got != testbed.ResponseMissingModule {
				t.Errorf("response = %s", got)
			}
		})
	}
}

func TestInvoke_RawResponseUnmodified(t *testing.T) {
	inst := instantiate(t, testbed.Options{})
	got, err := inst.Invoke(context.Background(), Call{Source: "?"})
	if err != nil {
		t.Fatal(err)
	}
	if got != testbed.ResponseGarbage {
		t.Errorf("response = %q", got)
	}
}

func TestInvoke_Witness(t *testing.T) {
	ctx := context.Background()
	witness := []byte(`{"x":{"value":"0x01","type":"u8"}}`)

	inst := instantiate(t, testbed.Options{Witness: true})
	if !inst.WitnessAware() {
		t.Fatal("expected witness-aware instance")
	}
	got, err := inst.Invoke(ctx, Call{Source: "mod param {}", Witness: witness})
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		CMR     string          `json:"cmr"`
		Witness json.RawMessage `json:"witness"`
	}
	if err := json.Unmarshal([]byte(got), &resp); err != nil {
		t.Fatalf("response %q: %v", got, err)
	}
	if resp.CMR != testbed.CMR || string(resp.Witness) != string(witness) {
		t.Errorf("response = %s", got)
	}

	plain := instantiate(t, testbed.Options{})
	if plain.WitnessAware() {
		t.Fatal("module without witness export reported witness-aware")
	}
	got, err = plain.Invoke(ctx, Call{Source: "mod param {}", Witness: witness})
	if err != nil {
		t.Fatal(err)
	}
	if got != testbed.ResponseOK {
		t.Errorf("response = %s", got)
	}
}

func TestInvoke_TrapIsRecoverable(t *testing.T) {
	ctx := context.Background()
	inst := instantiate(t, testbed.Options{})

	_, err := inst.Invoke(ctx, Call{Source: "!"})
	if !errors.Is(err, bridgeerrors.ErrInvocationFailure) {
		t.Fatalf("err = %v, want InvocationFailure", err)
	}
	if !bridgeerrors.IsRecoverable(err) {
		t.Error("trap should be recoverable")
	}

	if err := inst.Probe(ctx); err != nil {
		t.Fatalf("Probe after trap: %v", err)
	}
	got, err := inst.Invoke(ctx, Call{Source: "mod x"})
	if err != nil || got != testbed.ResponseOK {
		t.Fatalf("Invoke after trap = %q, %v", got, err)
	}
}

func TestInvoke_Throw(t *testing.T) {
	inst := instantiate(t, testbed.Options{})
	_, err := inst.Invoke(context.Background(), Call{Source: "#"})
	if !errors.Is(err, bridgeerrors.ErrInvocationFailure) {
		t.Fatalf("err = %v, want InvocationFailure", err)
	}
	if !strings.Contains(err.Error(), testbed.ThrowMessage) {
		t.Errorf("error %q does not carry the guest message", err)
	}
}

func TestInvoke_LogImport(t *testing.T) {
	inst := instantiate(t, testbed.Options{})
	got, err := inst.Invoke(context.Background(), Call{Source: "Log me"})
	if err != nil {
		t.Fatal(err)
	}
	if got != testbed.ResponseMissingModule {
		t.Errorf("response = %s", got)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	inst := instantiate(t, testbed.Options{})

	if err := inst.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if !inst.Closed() {
		t.Fatal("Closed() = false after Close")
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}

	_, err := inst.Invoke(ctx, Call{Source: "mod x"})
	if !errors.Is(err, bridgeerrors.ErrSessionClosed) {
		t.Fatalf("err = %v, want SessionClosed", err)
	}
	if err := inst.Probe(ctx); err == nil {
		t.Error("Probe on closed instance succeeded")
	}
}

func TestInstantiate_Start(t *testing.T) {
	inst := instantiate(t, testbed.Options{NoStart: true})
	got, err := inst.Invoke(context.Background(), Call{Source: "m"})
	if err != nil || got != testbed.ResponseOK {
		t.Fatalf("Invoke = %q, %v", got, err)
	}
}

func TestInstantiate_Failures(t *testing.T) {
	ctx := context.Background()

	encode := func(t *testing.T, bin []byte, glue string) *payload.Payload {
		t.Helper()
		p, err := payload.Encode(bin, glue, "test")
		if err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name    string
		payload func(t *testing.T) *payload.Payload
		check   func(t *testing.T, err error)
	}{
		{
			name: "malformed module",
			payload: func(t *testing.T) *payload.Payload {
				bin := testbed.Module(testbed.Options{})
				return encode(t, bin[:len(bin)/2], testbed.Glue(testbed.Options{}))
			},
		},
		{
			name: "unsupported import",
			payload: func(t *testing.T) *payload.Payload {
				o := testbed.Options{ExtraImports: []wasm.Import{{Module: "env", Name: "__wbg_now_1e80617bcee43265"}}}
				return testbed.Payload(o)
			},
			check: func(t *testing.T, err error) {
				var u *bridgeerrors.UnsupportedImportsError
				if !errors.As(err, &u) {
					t.Fatalf("err = %v, want UnsupportedImportsError in chain", err)
				}
				if len(u.Imports) != 1 || u.Imports[0].Module != "env" {
					t.Errorf("imports = %+v", u.Imports)
				}
				if !strings.Contains(err.Error(), "__wbg_now") {
					t.Errorf("error %q does not name the import", err)
				}
			},
		},
		{
			name: "glue for another module",
			payload: func(t *testing.T) *payload.Payload {
				return encode(t, testbed.Module(testbed.Options{}), "export function greet() { return wasm.greet(); }")
			},
		},
		{
			name: "glue calls a missing export",
			payload: func(t *testing.T) *payload.Payload {
				glue := testbed.Glue(testbed.Options{}) + "\nwasm.compile_with_witness(a, b, c, d);\n"
				return encode(t, testbed.Module(testbed.Options{}), glue)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(Config{}).Instantiate(ctx, tt.payload(t))
			if h != nil {
				t.Fatal("expected no handle")
			}
			if !errors.Is(err, bridgeerrors.ErrInstantiationFailure) {
				t.Fatalf("err = %v, want InstantiationFailure", err)
			}
			if !bridgeerrors.IsStartup(err) {
				t.Error("instantiation failure should be a startup failure")
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestInstantiate_MemoryLimit(t *testing.T) {
	// The module needs two pages.
	_, err := New(Config{MemoryLimitPages: 1}).Instantiate(context.Background(), testbed.Payload(testbed.Options{}))
	if !errors.Is(err, bridgeerrors.ErrInstantiationFailure) {
		t.Fatalf("err = %v, want InstantiationFailure", err)
	}
}
