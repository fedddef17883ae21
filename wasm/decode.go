package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrTruncated      = errors.New("truncated wasm binary")
)

// IsModule reports whether data starts with the core module header.
func IsModule(data []byte) bool {
	return len(data) >= 8 &&
		binary.LittleEndian.Uint32(data[0:4]) == Magic &&
		binary.LittleEndian.Uint32(data[4:8]) == Version
}

// ParseModule inspects a WebAssembly binary module. Sections the bridge does
// not need are skipped by size.
func ParseModule(data []byte) (*Module, error) {
	if len(data) < 8 {
		return nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	r := bytes.NewReader(data[8:])

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		size, err := ReadLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", sectionID, err)
		}
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("section %d: %w", sectionID, ErrTruncated)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("section %d: %w", sectionID, err)
		}

		sr := bytes.NewReader(body)
		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionTable, SectionGlobal, SectionStart, SectionElement,
			SectionCode, SectionData, SectionDataCount, SectionTag:
			// not needed for inspection
		default:
			err = fmt.Errorf("unknown section ID: 0x%02x", sectionID)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", sectionID, err)
		}
	}

	return m, nil
}

func parseCustomSection(r *bytes.Reader, m *Module) error {
	name, err := readName(r)
	if err != nil {
		return err
	}
	data := make([]byte, r.Len())
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: unsupported type form 0x%02x", i, form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func parseImportSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mod, err := readName(r)
		if err != nil {
			return err
		}
		name, err := readName(r)
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := Import{Module: mod, Name: name, Kind: kind}
		switch kind {
		case KindFunc:
			if imp.TypeIdx, err = ReadLEB128u(r); err != nil {
				return err
			}
		case KindTable:
			if _, err = r.ReadByte(); err != nil {
				return err
			}
			if _, err = readLimits(r); err != nil {
				return err
			}
		case KindMemory:
			if _, err = readLimits(r); err != nil {
				return err
			}
		case KindGlobal:
			if _, err = r.ReadByte(); err != nil {
				return err
			}
			if _, err = r.ReadByte(); err != nil {
				return err
			}
		case KindTag:
			if _, err = r.ReadByte(); err != nil {
				return err
			}
			if _, err = ReadLEB128u(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("import %s: unknown kind 0x%02x", imp.Key(), kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		idx, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		m.Funcs = append(m.Funcs, idx)
	}
	return nil
}

func parseMemorySection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		l, err := readLimits(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, l)
	}
	return nil
}

func parseExportSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readName(r)
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func readValTypes(r *bytes.Reader) ([]ValType, error) {
	count, err := ReadLEB128u(r)
	if err != nil {
		return nil, err
	}
	if int64(count) > int64(r.Len()) {
		return nil, ErrTruncated
	}
	types := make([]ValType, count)
	for i := range types {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		types[i] = ValType(b)
	}
	return types, nil
}

// readLimits reads table/memory limits. Flag bit 0 marks a maximum; the
// shared and memory64 bits only change the meaning, not the layout.
func readLimits(r *bytes.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	min, err := ReadLEB128u64(r)
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: min}
	if flags&0x01 != 0 {
		max, err := ReadLEB128u64(r)
		if err != nil {
			return Limits{}, err
		}
		l.Max = &max
	}
	return l, nil
}

func readName(r *bytes.Reader) (string, error) {
	n, err := ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", ErrTruncated
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("name is not valid UTF-8: %x", buf)
	}
	return string(buf), nil
}
