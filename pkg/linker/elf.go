package linker

import (
	"bytes"
	"debug/elf"
)

const SHF_EXCLUDE uint32 = 0x80000000
const SHF_GNU_RETAIN uint64 = 0x200000
const SHT_LLVM_ADDRSIG uint32 = 0x6fff4c03
const STT_GNU_IFUNC uint8 = 10

const PageSize = 4096

// NonPieStartMemAddress is where non-relocatable executables start in
// memory. A distinctive non-zero value makes file offsets and memory
// addresses easy to tell apart.
const NonPieStartMemAddress uint64 = 0x400000

// CurrentExeTlsMod is the TLS module number of the executable itself.
const CurrentExeTlsMod uint64 = 1

const (
	FileHeaderSize    = 0x40
	ProgramHeaderSize = 0x38
	SectionHeaderSize = 0x40
	SymtabEntrySize   = 0x18
	RelaEntrySize     = 0x18
	DynEntrySize      = 0x10
	GotEntrySize      = 8
)

// PltEntryTemplate is one lazy-free PLT stub. The rel32 at
// PltGotOffsetField is the GOT slot relative to the end of the jmp.
var PltEntryTemplate = []byte{
	0xf3, 0x0f, 0x1e, 0xfa, // endbr64
	0xf2, 0xff, 0x25, 0x0, 0x0, 0x0, 0x0, // bnd jmp *{relative GOT address}(%rip)
	0x0f, 0x1f, 0x44, 0x0, 0x0, // nopl   0x0(%rax,%rax,1)
}

const (
	PltEntrySize      = 16
	PltGotOffsetField = 7
	PltJmpEnd         = 11
)

// Dynamic-section flag values.
const (
	DF_BIND_NOW uint64 = 0x8
	DF_1_NOW    uint64 = 0x1
	DF_1_PIE    uint64 = 0x08000000
)

type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type Phdr struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Val   uint64
	Size  uint64
}

func (s *Sym) IsUndef() bool {
	return s.Shndx == uint16(elf.SHN_UNDEF)
}

func (s *Sym) IsDefined() bool {
	return !s.IsUndef()
}

func (s *Sym) IsCommon() bool {
	return s.Shndx == uint16(elf.SHN_COMMON)
}

func (s *Sym) IsAbs() bool {
	return s.Shndx == uint16(elf.SHN_ABS)
}

func (s *Sym) IsWeak() bool {
	return s.Bind() == uint8(elf.STB_WEAK)
}

func (s *Sym) IsUndefWeak() bool {
	return s.IsUndef() && s.IsWeak()
}

func (s *Sym) IsIFunc() bool {
	return s.Type() == STT_GNU_IFUNC
}

func (s *Sym) IsTls() bool {
	return s.Type() == uint8(elf.STT_TLS)
}

func (s *Sym) IsFunc() bool {
	return s.Type() == uint8(elf.STT_FUNC) || s.IsIFunc()
}

func (s *Sym) Type() uint8 {
	return s.Info & 0xf
}

func (s *Sym) Bind() uint8 {
	return s.Info >> 4
}

func (s *Sym) StVisibility() uint8 {
	return s.Other & 0b11
}

func NewSymInfo(bind elf.SymBind, typ elf.SymType) uint8 {
	return uint8(bind)<<4 | uint8(typ)&0xf
}

type Rela struct {
	Offset uint64
	Type   uint32
	Sym    uint32
	Addend int64
}

type Dyn struct {
	Tag int64
	Val uint64
}

func getName(strTab []byte, offset uint32) string {
	if int(offset) >= len(strTab) {
		return ""
	}
	length := bytes.IndexByte(strTab[offset:], 0)
	if length < 0 {
		return string(strTab[offset:])
	}
	return string(strTab[offset : offset+uint32(length)])
}

func writeString(buf []byte, str string) int64 {
	copy(buf, str)
	buf[len(str)] = 0
	return int64(len(str)) + 1
}

// ELF magic helpers.

func CheckMagic(contents []byte) bool {
	return bytes.HasPrefix(contents, []byte(elf.ELFMAG))
}

func WriteMagic(contents []byte) {
	copy(contents, elf.ELFMAG)
}
