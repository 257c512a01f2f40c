package linker

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordSizes(t *testing.T) {
	tests := []struct {
		name string
		v    any
		size int
	}{
		{"Ehdr", Ehdr{}, FileHeaderSize},
		{"Shdr", Shdr{}, SectionHeaderSize},
		{"Phdr", Phdr{}, ProgramHeaderSize},
		{"Sym", Sym{}, SymtabEntrySize},
		{"Rela", Rela{}, RelaEntrySize},
		{"Dyn", Dyn{}, DynEntrySize},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.size, binary.Size(tc.v), tc.name)
	}
}

func TestSymInfo(t *testing.T) {
	sym := Sym{Info: NewSymInfo(elf.STB_WEAK, elf.STT_FUNC), Other: uint8(elf.STV_HIDDEN)}
	assert.True(t, sym.IsWeak())
	assert.True(t, sym.IsFunc())
	assert.True(t, sym.IsUndef())
	assert.False(t, sym.IsDefined())
	assert.True(t, sym.IsUndefWeak())
	assert.Equal(t, uint8(elf.STV_HIDDEN), sym.StVisibility())

	sym = Sym{Info: NewSymInfo(elf.STB_GLOBAL, elf.STT_TLS), Shndx: uint16(elf.SHN_ABS)}
	assert.True(t, sym.IsAbs())
	assert.True(t, sym.IsTls())
	assert.False(t, sym.IsUndef())
}

func TestMagic(t *testing.T) {
	buf := make([]byte, 16)
	assert.False(t, CheckMagic(buf))
	WriteMagic(buf)
	assert.True(t, CheckMagic(buf))
	assert.Equal(t, []byte("\x7fELF"), buf[:4])
}
