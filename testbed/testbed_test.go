package testbed

import (
	"strings"
	"testing"
	"time"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/registry"
	"github.com/wippyai/simplicity-bridge/runtime"
	"github.com/wippyai/simplicity-bridge/wasm"
)

func TestModule_Decodes(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		conv runtime.Convention
	}{
		{"multi-value", Options{}, runtime.MultiValue},
		{"return pointer", Options{Convention: ReturnPointer}, runtime.ReturnPointer},
		{"packed", Options{Convention: Packed}, runtime.Packed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := wasm.ParseModule(Module(tt.opts))
			if err != nil {
				t.Fatalf("ParseModule: %v", err)
			}
			for _, name := range []string{bridge.ExportMalloc, bridge.ExportFree, bridge.ExportCompile, bridge.ExportStart} {
				if m.ExportedFunc(name) == nil {
					t.Errorf("missing export %s", name)
				}
			}
			b, err := runtime.Bind(m, Glue(tt.opts))
			if err != nil {
				t.Fatalf("Bind: %v", err)
			}
			if b.Compile != tt.conv {
				t.Errorf("convention = %v, want %v", b.Compile, tt.conv)
			}
		})
	}
}

func TestModule_Options(t *testing.T) {
	m, err := wasm.ParseModule(Module(Options{Witness: true, NoStart: true, NoBindgenImports: true, Version: "feedface"}))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if m.ExportedFunc(bridge.ExportCompileWithWitness) == nil {
		t.Error("witness export missing")
	}
	if m.ExportedFunc(bridge.ExportStart) != nil {
		t.Error("start export present with NoStart")
	}
	if len(m.Imports) != 0 {
		t.Errorf("imports = %v, want none", m.Imports)
	}
	if v, ok := m.CustomSection(wasm.VersionSection); !ok || string(v) != "feedface" {
		t.Errorf("version section = %q, %v", v, ok)
	}
}

func TestGlue_References(t *testing.T) {
	glue := Glue(Options{Witness: true})
	for _, name := range []string{bridge.ExportCompile, bridge.ExportCompileWithWitness, bridge.ExportMalloc} {
		if !strings.Contains(glue, "wasm."+name) {
			t.Errorf("glue does not reference %s", name)
		}
	}
	if strings.Contains(Glue(Options{}), bridge.ExportCompileWithWitness) {
		t.Error("glue references the witness export without Options.Witness")
	}
}

func TestDist_Locatable(t *testing.T) {
	asset, err := registry.New(Dist(Options{}, "0123abcd", time.Now()), registry.Strict).Locate()
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if asset.Version != "0123abcd" {
		t.Errorf("version = %q", asset.Version)
	}
}
