package compiler

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/wippyai/simplicity-bridge/errors"
)

// Variable is the typed value descriptor of one witness variable.
type Variable struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Witness maps variable names to their descriptors.
type Witness map[string]Variable

// ParseWitness validates witness text. Empty or whitespace-only text means
// no witness and yields nil. Anything other than a JSON object of
// descriptors with unique names is a WitnessValidation error.
func ParseWitness(text string) (Witness, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.WitnessValidation(nil, "invalid JSON: "+err.Error())
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.WitnessValidation(nil, "must be a JSON object mapping names to {value, type}")
	}

	w := Witness{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.WitnessValidation(nil, "invalid JSON: "+err.Error())
		}
		name := tok.(string)
		if name == "" {
			return nil, errors.WitnessValidation([]string{name}, "variable name is empty")
		}
		if _, dup := w[name]; dup {
			return nil, errors.WitnessValidation([]string{name}, "duplicate variable")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.WitnessValidation([]string{name}, "invalid JSON: "+err.Error())
		}
		v, err := parseVariable(name, raw)
		if err != nil {
			return nil, err
		}
		w[name] = v
	}

	if _, err := dec.Token(); err != nil {
		return nil, errors.WitnessValidation(nil, "invalid JSON: "+err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.WitnessValidation(nil, "unexpected data after the witness object")
	}
	return w, nil
}

func parseVariable(name string, raw json.RawMessage) (Variable, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return Variable{}, errors.WitnessValidation([]string{name}, "descriptor must be an object with value and type")
	}

	var v Variable
	seen := make(map[string]bool, 2)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Variable{}, errors.WitnessValidation([]string{name}, "invalid descriptor: "+err.Error())
		}
		key := tok.(string)
		var dst *string
		switch key {
		case "value":
			dst = &v.Value
		case "type":
			dst = &v.Type
		default:
			return Variable{}, errors.WitnessValidation([]string{name, key}, "unknown field")
		}
		if seen[key] {
			return Variable{}, errors.WitnessValidation([]string{name, key}, "duplicate field")
		}
		seen[key] = true

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return Variable{}, errors.WitnessValidation([]string{name, key}, "invalid descriptor: "+err.Error())
		}
		if err := json.Unmarshal(val, dst); err != nil || bytes.Equal(val, []byte("null")) {
			return Variable{}, errors.WitnessValidation([]string{name, key}, "must be a string")
		}
	}
	if !seen["value"] {
		return Variable{}, errors.WitnessValidation([]string{name, "value"}, "missing")
	}
	return v, nil
}

// Names returns the variable names in sorted order.
func (w Witness) Names() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode returns the canonical JSON form passed to the module: keys
// sorted, no insignificant whitespace.
func (w Witness) Encode() []byte {
	if w == nil {
		return nil
	}
	// map keys marshal in sorted order; Variable cannot fail to marshal
	b, _ := json.Marshal(map[string]Variable(w))
	return b
}
