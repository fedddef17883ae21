// Package payload converts a module/glue pair into a transport-safe,
// self-contained form that needs no network fetch to load.
package payload

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"unicode/utf8"

	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/wasm"
)

// Data URL prefixes used by the browser hosts.
const (
	WasmDataURLPrefix = "data:application/wasm;base64,"
	GlueDataURLPrefix = "data:application/javascript;base64,"
)

// Payload is the encoded form of a module and its glue code. It is derived
// from its inputs only, so equal inputs give equal payloads.
type Payload struct {
	Version    string `json:"version"`
	ModuleB64  string `json:"module"`
	GlueB64    string `json:"glue"`
	Digest     string `json:"digest"`
	ModuleSize int    `json:"module_size"`
	GlueSize   int    `json:"glue_size"`
}

// Encode builds the payload for binary and glue. An empty binary, a binary
// without the WebAssembly header, or glue that is not UTF-8 text fails with
// EncodingFailure.
func Encode(binary []byte, glue string, version string) (*Payload, error) {
	if len(binary) == 0 {
		return nil, errors.EncodingFailure("module is empty", nil)
	}
	if !wasm.IsModule(binary) {
		return nil, errors.EncodingFailure("module does not start with the wasm header", nil)
	}
	if !utf8.ValidString(glue) {
		return nil, errors.EncodingFailure("glue code is not valid UTF-8", nil)
	}

	h := sha256.New()
	h.Write(binary)
	h.Write([]byte{0})
	h.Write([]byte(glue))

	return &Payload{
		Version:    version,
		ModuleB64:  base64.StdEncoding.EncodeToString(binary),
		GlueB64:    base64.StdEncoding.EncodeToString([]byte(glue)),
		Digest:     hex.EncodeToString(h.Sum(nil)),
		ModuleSize: len(binary),
		GlueSize:   len(glue),
	}, nil
}

// ModuleDataURL returns the module as a data: URL.
func (p *Payload) ModuleDataURL() string {
	return WasmDataURLPrefix + p.ModuleB64
}

// GlueDataURL returns the glue code as a data: URL.
func (p *Payload) GlueDataURL() string {
	return GlueDataURLPrefix + p.GlueB64
}

// Module decodes the module bytes.
func (p *Payload) Module() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(p.ModuleB64)
	if err != nil {
		return nil, errors.EncodingFailure("decode module", err)
	}
	return b, nil
}

// Glue decodes the glue code.
func (p *Payload) Glue() (string, error) {
	b, err := base64.StdEncoding.DecodeString(p.GlueB64)
	if err != nil {
		return "", errors.EncodingFailure("decode glue", err)
	}
	return string(b), nil
}

// Equal reports whether two payloads are byte-identical.
func (p *Payload) Equal(other *Payload) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Version == other.Version &&
		p.Digest == other.Digest &&
		p.ModuleB64 == other.ModuleB64 &&
		p.GlueB64 == other.GlueB64
}
