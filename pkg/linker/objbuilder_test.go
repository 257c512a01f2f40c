package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testSym struct {
	key     string
	name    string
	section string
	value   uint64
	size    uint64
	bind    elf.SymBind
	typ     elf.SymType
	other   uint8
}

type testReloc struct {
	offset uint64
	typ    elf.R_X86_64
	sym    string
	addend int64
}

type testSection struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	align   uint64
	entSize uint64
	data    []byte
	size    uint64
	relocs  []testReloc
}

func (s *testSection) reloc(off uint64, typ elf.R_X86_64, sym string, addend int64) *testSection {
	s.relocs = append(s.relocs, testReloc{off, typ, sym, addend})
	return s
}

// objBuilder writes minimal x86-64 ELF relocatable objects.
type objBuilder struct {
	elfType  elf.Type
	sections []*testSection
	syms     []testSym
}

func newObjBuilder() *objBuilder {
	return &objBuilder{elfType: elf.ET_REL}
}

func (b *objBuilder) section(name string, typ elf.SectionType, flags elf.SectionFlag, data []byte) *testSection {
	s := &testSection{name: name, typ: typ, flags: flags, align: 1, data: data, size: uint64(len(data))}
	b.sections = append(b.sections, s)
	return s
}

func (b *objBuilder) text(name string, code []byte) *testSection {
	s := b.section(name, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, code)
	s.align = 16
	return s
}

func (b *objBuilder) data(name string, data []byte) *testSection {
	s := b.section(name, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, data)
	s.align = 8
	return s
}

func (b *objBuilder) cstrings(name string, data []byte) *testSection {
	s := b.section(name, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_MERGE|elf.SHF_STRINGS, data)
	s.entSize = 1
	return s
}

func (b *objBuilder) bss(name string, size uint64, flags elf.SectionFlag) *testSection {
	s := b.section(name, elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE|flags, nil)
	s.size = size
	s.align = 8
	return s
}

func (b *objBuilder) sym(s testSym) *objBuilder {
	if s.key == "" {
		s.key = s.name
	}
	b.syms = append(b.syms, s)
	return b
}

func (b *objBuilder) global(name, section string, value uint64) *objBuilder {
	return b.sym(testSym{name: name, section: section, value: value, bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE})
}

func (b *objBuilder) function(name, section string, value uint64) *objBuilder {
	return b.sym(testSym{name: name, section: section, value: value, bind: elf.STB_GLOBAL, typ: elf.STT_FUNC})
}

func (b *objBuilder) object(name, section string, value, size uint64) *objBuilder {
	return b.sym(testSym{name: name, section: section, value: value, size: size, bind: elf.STB_GLOBAL, typ: elf.STT_OBJECT})
}

func (b *objBuilder) weak(name, section string, value uint64) *objBuilder {
	return b.sym(testSym{name: name, section: section, value: value, bind: elf.STB_WEAK, typ: elf.STT_NOTYPE})
}

func (b *objBuilder) local(name, section string, value uint64) *objBuilder {
	return b.sym(testSym{name: name, section: section, value: value, bind: elf.STB_LOCAL, typ: elf.STT_NOTYPE})
}

// sectionSym adds the STT_SECTION symbol of section, referenced by
// relocations as "section:<name>".
func (b *objBuilder) sectionSym(section string) *objBuilder {
	return b.sym(testSym{key: "section:" + section, section: section, bind: elf.STB_LOCAL, typ: elf.STT_SECTION})
}

type strtab struct {
	buf []byte
}

func (t *strtab) add(s string) uint32 {
	if t.buf == nil {
		t.buf = []byte{0}
	}
	if s == "" {
		return 0
	}
	off := uint32(len(t.buf))
	t.buf = append(append(t.buf, s...), 0)
	return off
}

func (b *objBuilder) bytes() []byte {
	known := map[string]bool{}
	for _, s := range b.syms {
		known[s.key] = true
	}
	syms := append([]testSym(nil), b.syms...)
	for _, sec := range b.sections {
		for _, r := range sec.relocs {
			if !known[r.sym] {
				known[r.sym] = true
				syms = append(syms, testSym{key: r.sym, name: r.sym, bind: elf.STB_GLOBAL})
			}
		}
	}

	ordered := []testSym{{}}
	for _, s := range syms {
		if s.bind == elf.STB_LOCAL {
			ordered = append(ordered, s)
		}
	}
	firstGlobal := len(ordered)
	for _, s := range syms {
		if s.bind != elf.STB_LOCAL {
			ordered = append(ordered, s)
		}
	}
	symIdx := map[string]int{}
	for i, s := range ordered[1:] {
		symIdx[s.key] = i + 1
	}

	secIdx := map[string]int{}
	for i, s := range b.sections {
		secIdx[s.name] = i + 1
	}

	var relaFor []*testSection
	for _, s := range b.sections {
		if len(s.relocs) > 0 {
			relaFor = append(relaFor, s)
		}
	}
	symtabIdx := len(b.sections) + len(relaFor) + 1
	strtabIdx := symtabIdx + 1
	shstrtabIdx := strtabIdx + 1

	var out bytes.Buffer
	out.Write(make([]byte, FileHeaderSize))
	place := func(data []byte, align uint64) uint64 {
		for align > 1 && uint64(out.Len())%align != 0 {
			out.WriteByte(0)
		}
		off := uint64(out.Len())
		out.Write(data)
		return off
	}
	encode := func(v any) []byte {
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			panic(err)
		}
		return buf.Bytes()
	}

	names := &strtab{}
	shnames := &strtab{}
	shdrs := make([]Shdr, shstrtabIdx+1)

	for i, s := range b.sections {
		shdr := &shdrs[i+1]
		shdr.Name = shnames.add(s.name)
		shdr.Type = uint32(s.typ)
		shdr.Flags = uint64(s.flags)
		shdr.AddrAlign = s.align
		shdr.EntSize = s.entSize
		shdr.Size = s.size
		if s.typ == elf.SHT_NOBITS {
			shdr.Offset = uint64(out.Len())
		} else {
			shdr.Offset = place(s.data, s.align)
		}
	}

	var symtab []Sym
	for _, s := range ordered {
		esym := Sym{
			Name:  names.add(s.name),
			Info:  NewSymInfo(s.bind, s.typ),
			Other: s.other,
			Val:   s.value,
			Size:  s.size,
		}
		switch s.section {
		case "":
		case "*ABS*":
			esym.Shndx = uint16(elf.SHN_ABS)
		default:
			idx, ok := secIdx[s.section]
			if !ok {
				panic(fmt.Sprintf("unknown section %s", s.section))
			}
			esym.Shndx = uint16(idx)
		}
		symtab = append(symtab, esym)
	}

	for i, s := range relaFor {
		var rels []Rela
		for _, r := range s.relocs {
			rels = append(rels, Rela{
				Offset: r.offset,
				Type:   uint32(r.typ),
				Sym:    uint32(symIdx[r.sym]),
				Addend: r.addend,
			})
		}
		data := encode(rels)
		shdr := &shdrs[len(b.sections)+1+i]
		shdr.Name = shnames.add(".rela" + s.name)
		shdr.Type = uint32(elf.SHT_RELA)
		shdr.Flags = uint64(elf.SHF_INFO_LINK)
		shdr.Link = uint32(symtabIdx)
		shdr.Info = uint32(secIdx[s.name])
		shdr.AddrAlign = 8
		shdr.EntSize = RelaEntrySize
		shdr.Size = uint64(len(data))
		shdr.Offset = place(data, 8)
	}

	symData := encode(symtab)
	shdrs[symtabIdx] = Shdr{
		Name:      shnames.add(".symtab"),
		Type:      uint32(elf.SHT_SYMTAB),
		Link:      uint32(strtabIdx),
		Info:      uint32(firstGlobal),
		AddrAlign: 8,
		EntSize:   SymtabEntrySize,
		Size:      uint64(len(symData)),
		Offset:    place(symData, 8),
	}
	names.add("")
	shdrs[strtabIdx] = Shdr{
		Name:      shnames.add(".strtab"),
		Type:      uint32(elf.SHT_STRTAB),
		AddrAlign: 1,
		Size:      uint64(len(names.buf)),
		Offset:    place(names.buf, 1),
	}
	shdrs[shstrtabIdx].Name = shnames.add(".shstrtab")
	shdrs[shstrtabIdx].Type = uint32(elf.SHT_STRTAB)
	shdrs[shstrtabIdx].AddrAlign = 1
	shdrs[shstrtabIdx].Size = uint64(len(shnames.buf))
	shdrs[shstrtabIdx].Offset = place(shnames.buf, 1)

	shoff := place(encode(shdrs), 8)

	ehdr := Ehdr{
		Type:      uint16(b.elfType),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		ShOff:     shoff,
		EhSize:    FileHeaderSize,
		ShEntSize: SectionHeaderSize,
		ShNum:     uint16(len(shdrs)),
		ShStrndx:  uint16(shstrtabIdx),
	}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)

	buf := out.Bytes()
	copy(buf, encode(ehdr))
	return buf
}

func (b *objBuilder) write(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.bytes(), 0644))
	return path
}

type arMember struct {
	name string
	data []byte
}

// writeArchive writes a GNU ar archive with short member names.
func writeArchive(t *testing.T, dir, name string, members ...arMember) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("!<arch>\n")
	for _, m := range members {
		fmt.Fprintf(&buf, "%-16s%-12s%-6s%-6s%-8s%-10d`\n", m.name+"/", "0", "0", "0", "644", len(m.data))
		buf.Write(m.data)
		if buf.Len()%2 == 1 {
			buf.WriteByte('\n')
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}
