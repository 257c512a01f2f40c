package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGnuHash(t *testing.T) {
	tests := []struct {
		name string
		hash uint32
	}{
		{"", 0x00001505},
		{"printf", 0x156b2bb8},
		{"exit", 0x7c967e3f},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.hash, gnuHash(tc.name), tc.name)
	}
}

func TestGnuHashSectionSize(t *testing.T) {
	tests := []struct {
		exports int
		buckets uint32
		words   uint32
	}{
		{0, 1, 1},
		{5, 1, 1},
		{8, 2, 2},
		{100, 13, 32},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.exports), func(t *testing.T) {
			s := NewGnuHashSection()
			s.SetExportCount(tc.exports)
			assert.Equal(t, tc.buckets, s.NumBuckets)
			assert.Equal(t, tc.words, s.BloomWords)
			want := 16 + uint64(tc.words)*8 + uint64(tc.buckets)*4 + uint64(tc.exports)*4
			assert.Equal(t, want, s.Shdr.Size)
		})
	}
}

func TestStrtabSectionDeduplicates(t *testing.T) {
	s := NewDynstrSection()
	assert.Zero(t, s.Add(""))
	a := s.Add("libc.so.6")
	b := s.Add("printf")
	assert.Equal(t, uint32(1), a)
	assert.Equal(t, uint32(11), b)
	assert.Equal(t, a, s.Add("libc.so.6"))
	assert.Equal(t, uint64(18), s.Shdr.Size)
}

// gnuLookup finds name through .gnu.hash the way ld.so does.
func gnuLookup(t *testing.T, f *elf.File, names []string, name string) int {
	t.Helper()
	sec := f.Section(".gnu.hash")
	require.NotNil(t, sec)
	data, err := sec.Data()
	require.NoError(t, err)

	le := binary.LittleEndian
	nbuckets := le.Uint32(data[0:])
	symOffset := le.Uint32(data[4:])
	bloomWords := le.Uint32(data[8:])
	shift := le.Uint32(data[12:])
	bloom := data[16:]
	buckets := bloom[bloomWords*8:]
	chains := buckets[nbuckets*4:]

	h := gnuHash(name)
	word := le.Uint64(bloom[((h/64)%bloomWords)*8:])
	mask := uint64(1)<<(h%64) | uint64(1)<<((h>>shift)%64)
	if word&mask != mask {
		return -1
	}

	idx := le.Uint32(buckets[(h%nbuckets)*4:])
	if idx == 0 {
		return -1
	}
	for {
		ch := le.Uint32(chains[(idx-symOffset)*4:])
		if h|1 == ch|1 && names[idx] == name {
			return int(idx)
		}
		if ch&1 != 0 {
			return -1
		}
		idx++
	}
}

func TestSharedObjectExportsAreHashed(t *testing.T) {
	dir := t.TempDir()
	b := newObjBuilder()
	code := bytes.Repeat([]byte{0xc3}, 40)
	b.text(".text", code)
	var exports []string
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("export_%d", i)
		exports = append(exports, name)
		b.function(name, ".text", uint64(i))
	}
	b.sym(testSym{name: "hidden_fn", section: ".text", bind: elf.STB_GLOBAL, typ: elf.STT_FUNC,
		other: uint8(elf.STV_HIDDEN)})

	_, f := mustLink(t, "-shared", b.write(t, dir, "lib.o"))

	dynsyms, err := f.DynamicSymbols()
	require.NoError(t, err)
	names := []string{""}
	for _, s := range dynsyms {
		names = append(names, s.Name)
	}
	assert.NotContains(t, names, "hidden_fn")

	for _, name := range exports {
		idx := gnuLookup(t, f, names, name)
		require.Positive(t, idx, name)
		assert.Equal(t, name, names[idx])
	}
	assert.Equal(t, -1, gnuLookup(t, f, names, "not_exported"))
}
