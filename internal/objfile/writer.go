// Package objfile writes the generated module out as a relocatable BPF
// ELF object: one executable section per program, named so the loader
// can match programs to attach points, plus the reserved helpers section
// and a symbol table. Map references inside the instruction streams are
// already bound to map file descriptors, so no relocation entries are
// needed.
package objfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/codegen"
	"github.com/tracegen/tracegen/internal/diag"
)

const (
	ehsize    = 64
	shentsize = 64
	symsize   = 24

	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3

	shfAlloc     = 0x2
	shfExecinstr = 0x4

	emBPF = 247
)

// Write emits the module to the given path, truncating any existing
// file.
func Write(path string, m *codegen.Module) error {
	data, err := Bytes(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &diag.Error{Stage: diag.StageEmit, Err: err,
			Hint: "check that the output directory exists and is writable"}
	}
	return nil
}

// Bytes builds the object image in memory.
func Bytes(m *codegen.Module) ([]byte, error) {
	w := newWriter()

	lic := append([]byte("GPL"), 0)
	w.addSection("license", shtProgbits, shfAlloc, lic, 0, 0, 0)

	for _, p := range m.Programs {
		code, err := marshalInsns(p.Insns)
		if err != nil {
			return nil, &diag.Error{Stage: diag.StageEmit, Construct: p.SectionName, Err: err}
		}
		idx := w.addSection(p.SectionName, shtProgbits, shfAlloc|shfExecinstr, code, 0, 0, 0)
		w.addFuncSymbol(symName(p.Name), idx, uint64(len(code)))
	}

	if len(m.Helpers) > 0 {
		var buf bytes.Buffer
		for _, h := range m.Helpers {
			if err := h.Insns.Marshal(&buf, binary.LittleEndian); err != nil {
				return nil, &diag.Error{Stage: diag.StageEmit, Construct: "helpers", Err: err}
			}
		}
		idx := w.addSection("helpers", shtProgbits, shfAlloc|shfExecinstr, buf.Bytes(), 0, 0, 0)
		off := uint64(0)
		for _, h := range m.Helpers {
			size := insnBytes(h.Insns)
			w.addFuncSymbolAt(h.Name, idx, off, size)
			off += size
		}
	}

	return w.finalize()
}

func marshalInsns(insns asm.Instructions) ([]byte, error) {
	var buf bytes.Buffer
	if err := insns.Marshal(&buf, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("marshal instructions: %w", err)
	}
	return buf.Bytes(), nil
}

func insnBytes(insns asm.Instructions) uint64 {
	var n uint64
	for _, ins := range insns {
		if ins.OpCode.IsDWordLoad() {
			n += 16
		} else {
			n += 8
		}
	}
	return n
}

func symName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

type section struct {
	nameOff uint32
	shType  uint32
	flags   uint64
	data    []byte
	link    uint32
	info    uint32
	entsize uint64
}

type symbol struct {
	nameOff uint32
	shndx   uint16
	value   uint64
	size    uint64
}

// writer assembles a minimal ELF64 little-endian relocatable image:
// header, section data, then section headers.
type writer struct {
	shstrtab []byte
	strtab   []byte
	sections []section
	symbols  []symbol
}

func newWriter() *writer {
	return &writer{
		shstrtab: []byte{0},
		strtab:   []byte{0},
		// Index 0 is the mandatory null section.
		sections: []section{{}},
	}
}

func (w *writer) addShstr(name string) uint32 {
	off := uint32(len(w.shstrtab))
	w.shstrtab = append(w.shstrtab, name...)
	w.shstrtab = append(w.shstrtab, 0)
	return off
}

func (w *writer) addStr(name string) uint32 {
	off := uint32(len(w.strtab))
	w.strtab = append(w.strtab, name...)
	w.strtab = append(w.strtab, 0)
	return off
}

func (w *writer) addSection(name string, shType uint32, flags uint64, data []byte, link, info uint32, entsize uint64) uint16 {
	w.sections = append(w.sections, section{
		nameOff: w.addShstr(name),
		shType:  shType,
		flags:   flags,
		data:    data,
		link:    link,
		info:    info,
		entsize: entsize,
	})
	return uint16(len(w.sections) - 1)
}

func (w *writer) addFuncSymbol(name string, shndx uint16, size uint64) {
	w.addFuncSymbolAt(name, shndx, 0, size)
}

func (w *writer) addFuncSymbolAt(name string, shndx uint16, value, size uint64) {
	w.symbols = append(w.symbols, symbol{
		nameOff: w.addStr(name),
		shndx:   shndx,
		value:   value,
		size:    size,
	})
}

func (w *writer) finalize() ([]byte, error) {
	// Assemble .symtab: the null entry then one global FUNC per program
	// and per helper.
	symtab := make([]byte, symsize)
	for _, s := range w.symbols {
		entry := make([]byte, symsize)
		binary.LittleEndian.PutUint32(entry[0:4], s.nameOff)
		entry[4] = 0x12 // GLOBAL, FUNC
		binary.LittleEndian.PutUint16(entry[6:8], s.shndx)
		binary.LittleEndian.PutUint64(entry[8:16], s.value)
		binary.LittleEndian.PutUint64(entry[16:24], s.size)
		symtab = append(symtab, entry...)
	}

	strtabIdx := w.addSection(".strtab", shtStrtab, 0, w.strtab, 0, 0, 0)
	w.addSection(".symtab", shtSymtab, 0, symtab, uint32(strtabIdx), 1, symsize)

	// .shstrtab must account for its own name before data layout.
	shstrtabName := w.addShstr(".shstrtab")
	w.sections = append(w.sections, section{
		nameOff: shstrtabName,
		shType:  shtStrtab,
	})
	w.sections[len(w.sections)-1].data = w.shstrtab
	shstrndx := uint16(len(w.sections) - 1)

	// Lay out section data after the header.
	var body bytes.Buffer
	offsets := make([]uint64, len(w.sections))
	cur := uint64(ehsize)
	for i, s := range w.sections {
		for cur%8 != 0 {
			body.WriteByte(0)
			cur++
		}
		offsets[i] = cur
		body.Write(s.data)
		cur += uint64(len(s.data))
	}
	for cur%8 != 0 {
		body.WriteByte(0)
		cur++
	}
	shoff := cur

	hdr := make([]byte, ehsize)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // little-endian
	hdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(hdr[16:18], 1) // ET_REL
	binary.LittleEndian.PutUint16(hdr[18:20], emBPF)
	binary.LittleEndian.PutUint32(hdr[20:24], 1)
	binary.LittleEndian.PutUint64(hdr[40:48], shoff)
	binary.LittleEndian.PutUint16(hdr[52:54], ehsize)
	binary.LittleEndian.PutUint16(hdr[58:60], shentsize)
	binary.LittleEndian.PutUint16(hdr[60:62], uint16(len(w.sections)))
	binary.LittleEndian.PutUint16(hdr[62:64], shstrndx)

	var out bytes.Buffer
	out.Write(hdr)
	out.Write(body.Bytes())
	for i, s := range w.sections {
		sh := make([]byte, shentsize)
		binary.LittleEndian.PutUint32(sh[0:4], s.nameOff)
		binary.LittleEndian.PutUint32(sh[4:8], s.shType)
		binary.LittleEndian.PutUint64(sh[8:16], s.flags)
		off := offsets[i]
		if s.shType == 0 {
			off = 0
		}
		binary.LittleEndian.PutUint64(sh[24:32], off)
		binary.LittleEndian.PutUint64(sh[32:40], uint64(len(s.data)))
		binary.LittleEndian.PutUint32(sh[40:44], s.link)
		binary.LittleEndian.PutUint32(sh[44:48], s.info)
		binary.LittleEndian.PutUint64(sh[48:56], 8)
		binary.LittleEndian.PutUint64(sh[56:64], s.entsize)
		out.Write(sh)
	}

	return out.Bytes(), nil
}
