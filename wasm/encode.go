package wasm

import "encoding/binary"

// Encode encodes the module to WebAssembly binary format. Sections are
// written in canonical order; custom sections go last.
func (m *Module) Encode() []byte {
	out := make([]byte, 8, 256)
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	binary.LittleEndian.PutUint32(out[4:8], Version)

	if len(m.Types) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, FuncTypeByte)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		out = appendSection(out, SectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = appendName(sec, imp.Module)
			sec = appendName(sec, imp.Name)
			// Only function imports are encoded; the bridge never builds others.
			sec = append(sec, KindFunc)
			sec = AppendLEB128u(sec, imp.TypeIdx)
		}
		out = appendSection(out, SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec = AppendLEB128u(sec, typeIdx)
		}
		out = appendSection(out, SectionFunction, sec)
	}

	if len(m.Memories) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.Memories)))
		for _, l := range m.Memories {
			sec = appendLimits(sec, l)
		}
		out = appendSection(out, SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec = append(sec, byte(g.Type))
			if g.Mutable {
				sec = append(sec, 1)
			} else {
				sec = append(sec, 0)
			}
			sec = append(sec, g.Init...)
		}
		out = appendSection(out, SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec = appendName(sec, exp.Name)
			sec = append(sec, exp.Kind)
			sec = AppendLEB128u(sec, exp.Idx)
		}
		out = appendSection(out, SectionExport, sec)
	}

	if len(m.Code) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.Code)))
		for _, body := range m.Code {
			fn := AppendLEB128u(nil, uint32(len(body.Locals)))
			for _, local := range body.Locals {
				fn = AppendLEB128u(fn, local.Count)
				fn = append(fn, byte(local.ValType))
			}
			fn = append(fn, body.Code...)
			sec = AppendLEB128u(sec, uint32(len(fn)))
			sec = append(sec, fn...)
		}
		out = appendSection(out, SectionCode, sec)
	}

	if len(m.Data) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.Data)))
		for _, seg := range m.Data {
			// active segment, memory 0, offset i32.const
			sec = append(sec, 0x00, OpI32Const)
			sec = AppendLEB128s(sec, int64(int32(seg.Offset)))
			sec = append(sec, OpEnd)
			sec = AppendLEB128u(sec, uint32(len(seg.Init)))
			sec = append(sec, seg.Init...)
		}
		out = appendSection(out, SectionData, sec)
	}

	for _, cs := range m.CustomSections {
		sec := appendName(nil, cs.Name)
		sec = append(sec, cs.Data...)
		out = appendSection(out, SectionCustom, sec)
	}

	return out
}

func appendSection(out []byte, id byte, data []byte) []byte {
	out = append(out, id)
	out = AppendLEB128u(out, uint32(len(data)))
	return append(out, data...)
}

func appendValTypes(out []byte, types []ValType) []byte {
	out = AppendLEB128u(out, uint32(len(types)))
	for _, t := range types {
		out = append(out, byte(t))
	}
	return out
}

func appendLimits(out []byte, l Limits) []byte {
	if l.Max != nil {
		out = append(out, 0x01)
		out = AppendLEB128u(out, uint32(l.Min))
		return AppendLEB128u(out, uint32(*l.Max))
	}
	out = append(out, 0x00)
	return AppendLEB128u(out, uint32(l.Min))
}

func appendName(out []byte, s string) []byte {
	out = AppendLEB128u(out, uint32(len(s)))
	return append(out, s...)
}
