package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkArgs(t *testing.T, args ...string) (*Context, []byte, error) {
	t.Helper()
	arg, err := ParseArgs(args)
	require.NoError(t, err)
	ctx := NewContext(arg)
	t.Cleanup(func() { ctx.Close() })
	buf, err := LinkToBuffer(ctx)
	return ctx, buf, err
}

func mustLink(t *testing.T, args ...string) (*Context, *elf.File) {
	t.Helper()
	ctx, buf, err := linkArgs(t, args...)
	require.NoError(t, err)
	f, err := elf.NewFile(bytes.NewReader(buf))
	require.NoError(t, err)
	return ctx, f
}

func symAddr(t *testing.T, ctx *Context, name string) uint64 {
	t.Helper()
	sym, ok := ctx.SymbolDB.GlobalNames[name]
	require.True(t, ok, "symbol %s", name)
	res := ctx.Layout.SymbolResolution(sym.Id)
	require.NotNil(t, res, "symbol %s has no resolution", name)
	return res.Value.Addr
}

func resolutionOf(t *testing.T, ctx *Context, name string) *Resolution {
	t.Helper()
	sym, ok := ctx.SymbolDB.GlobalNames[name]
	require.True(t, ok, "symbol %s", name)
	return ctx.Layout.SymbolResolution(sym.Id)
}

// bytesAt reads n bytes of the loaded image at addr.
func bytesAt(t *testing.T, f *elf.File, addr uint64, n int) []byte {
	t.Helper()
	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_NOBITS || sec.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		if addr >= sec.Addr && addr+uint64(n) <= sec.Addr+sec.Size {
			data, err := sec.Data()
			require.NoError(t, err)
			off := addr - sec.Addr
			return data[off : off+uint64(n)]
		}
	}
	require.Failf(t, "address not mapped", "0x%x", addr)
	return nil
}

func rel32At(t *testing.T, f *elf.File, addr uint64) int32 {
	return int32(binary.LittleEndian.Uint32(bytesAt(t, f, addr, 4)))
}

func relaEntries(t *testing.T, f *elf.File, name string) []elf.Rela64 {
	t.Helper()
	sec := f.Section(name)
	require.NotNil(t, sec, "section %s", name)
	data, err := sec.Data()
	require.NoError(t, err)
	rels := make([]elf.Rela64, len(data)/RelaEntrySize)
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, rels))
	return rels
}

// startObj defines _start as `call target; ret`.
func startObj(target string) *objBuilder {
	b := newObjBuilder()
	b.text(".text", []byte{0xe8, 0, 0, 0, 0, 0xc3}).reloc(1, elf.R_X86_64_PLT32, target, -4)
	return b.function("_start", ".text", 0)
}

// funcObj defines name as a bare `ret`.
func funcObj(name string) *objBuilder {
	b := newObjBuilder()
	b.text(".text", []byte{0xc3})
	return b.function(name, ".text", 0)
}

func TestLinkStaticCall(t *testing.T) {
	dir := t.TempDir()
	start := startObj("foo").write(t, dir, "start.o")
	foo := funcObj("foo").write(t, dir, "foo.o")

	ctx, f := mustLink(t, start, foo)

	assert.Equal(t, elf.ET_EXEC, f.Type)
	assert.Equal(t, elf.EM_X86_64, f.Machine)

	startAddr := symAddr(t, ctx, "_start")
	fooAddr := symAddr(t, ctx, "foo")
	assert.Equal(t, startAddr, f.Entry)
	assert.GreaterOrEqual(t, startAddr, NonPieStartMemAddress)
	assert.Equal(t, int32(fooAddr-(startAddr+5)), rel32At(t, f, startAddr+1))

	assert.Nil(t, f.Section(".interp"))
	assert.Nil(t, f.Section(".dynamic"))

	var load *elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			load = p
			break
		}
	}
	require.NotNil(t, load)
	assert.Equal(t, NonPieStartMemAddress, load.Vaddr)
	assert.Zero(t, load.Off)
}

func TestSymbolPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		first  func(*objBuilder) *objBuilder
		second func(*objBuilder) *objBuilder
		winner string
	}{
		{
			name:   "strong beats earlier weak",
			first:  func(b *objBuilder) *objBuilder { return b.weak("x", ".data", 0) },
			second: func(b *objBuilder) *objBuilder { return b.global("x", ".data", 0) },
			winner: "b.o",
		},
		{
			name:   "strong beats later weak",
			first:  func(b *objBuilder) *objBuilder { return b.global("x", ".data", 0) },
			second: func(b *objBuilder) *objBuilder { return b.weak("x", ".data", 0) },
			winner: "a.o",
		},
		{
			name:   "first of two weak",
			first:  func(b *objBuilder) *objBuilder { return b.weak("x", ".data", 0) },
			second: func(b *objBuilder) *objBuilder { return b.weak("x", ".data", 0) },
			winner: "a.o",
		},
		{
			name:   "first of two strong",
			first:  func(b *objBuilder) *objBuilder { return b.global("x", ".data", 0) },
			second: func(b *objBuilder) *objBuilder { return b.global("x", ".data", 0) },
			winner: "a.o",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			start := startObj("foo")
			start.text(".text.foo", []byte{0xc3})
			start.function("foo", ".text.foo", 0)
			start.data("refs", make([]byte, 8)).reloc(0, elf.R_X86_64_64, "x", 0)

			a := newObjBuilder()
			a.data(".data", make([]byte, 8))
			b := newObjBuilder()
			b.data(".data", make([]byte, 8))

			paths := []string{
				start.write(t, dir, "start.o"),
				tc.first(a).write(t, dir, "a.o"),
				tc.second(b).write(t, dir, "b.o"),
			}
			ctx, f := mustLink(t, paths...)

			definer := ctx.SymbolDB.Definer("x")
			require.NotNil(t, definer)
			assert.Equal(t, filepath.Join(dir, tc.winner), definer.File.Name)

			refs := f.Section("refs")
			require.NotNil(t, refs)
			data, err := refs.Data()
			require.NoError(t, err)
			assert.Equal(t, symAddr(t, ctx, "x"), binary.LittleEndian.Uint64(data))
		})
	}
}

func TestUndefinedSymbol(t *testing.T) {
	dir := t.TempDir()
	start := startObj("missing").write(t, dir, "start.o")

	_, _, err := linkArgs(t, start)
	require.Error(t, err)

	var undef *UndefinedSymbolError
	require.True(t, errors.As(err, &undef), "got %v", err)
	assert.Equal(t, "missing", undef.Name)
	require.Len(t, undef.ReferencedBy, 1)
	assert.Contains(t, undef.ReferencedBy[0], "start.o")
	assert.Contains(t, err.Error(), "undefined symbol: missing")
}

func TestUndefinedWeakResolvesToZero(t *testing.T) {
	dir := t.TempDir()
	b := newObjBuilder()
	// movabs $maybe, %rax; ret
	b.text(".text", []byte{0x48, 0xb8, 1, 1, 1, 1, 1, 1, 1, 1, 0xc3}).
		reloc(2, elf.R_X86_64_64, "maybe", 0)
	b.function("_start", ".text", 0)
	b.sym(testSym{name: "maybe", bind: elf.STB_WEAK})

	ctx, f := mustLink(t, b.write(t, dir, "start.o"))

	start := symAddr(t, ctx, "_start")
	assert.Equal(t, make([]byte, 8), bytesAt(t, f, start+2, 8))
}

func TestArchiveMembersLoadedOnDemand(t *testing.T) {
	dir := t.TempDir()
	start := startObj("foo").write(t, dir, "start.o")

	// foo.o pulls in baz.o, nothing pulls in bar.o.
	foo := newObjBuilder()
	foo.text(".text", []byte{0xe9, 0, 0, 0, 0}).reloc(1, elf.R_X86_64_PLT32, "baz", -4)
	foo.function("foo", ".text", 0)

	lib := writeArchive(t, dir, "libx.a",
		arMember{"bar.o", funcObj("bar").bytes()},
		arMember{"foo.o", foo.bytes()},
		arMember{"baz.o", funcObj("baz").bytes()},
	)

	ctx, f := mustLink(t, start, lib)

	for _, name := range []string{"foo", "baz"} {
		definer := ctx.SymbolDB.Definer(name)
		require.NotNil(t, definer, name)
		assert.True(t, definer.IsAlive, name)
	}
	assert.Nil(t, ctx.SymbolDB.Definer("bar"))

	fooAddr := symAddr(t, ctx, "foo")
	bazAddr := symAddr(t, ctx, "baz")
	assert.Equal(t, int32(bazAddr-(fooAddr+5)), rel32At(t, f, fooAddr+1))
}

func TestArchiveViaLibrarySearch(t *testing.T) {
	dir := t.TempDir()
	libDir := filepath.Join(dir, "lib")
	require.NoError(t, os.Mkdir(libDir, 0755))
	start := startObj("foo").write(t, dir, "start.o")
	writeArchive(t, libDir, "libfoo.a", arMember{"foo.o", funcObj("foo").bytes()})

	ctx, _ := mustLink(t, "-L", libDir, start, "-lfoo")
	require.NotNil(t, ctx.SymbolDB.Definer("foo"))

	_, _, err := linkArgs(t, start, "-lnope")
	var cfg *ConfigError
	require.True(t, errors.As(err, &cfg), "got %v", err)
}

// determinismInputs writes a handful of objects exercising string
// merging, GOT slots and data relocations.
func determinismInputs(t *testing.T, dir string) []string {
	var paths []string
	for i := 0; i < 6; i++ {
		b := newObjBuilder()
		name := fmt.Sprintf("f%d", i)
		callee := fmt.Sprintf("f%d", (i+1)%6)
		code := []byte{
			0x48, 0x8b, 0x05, 0, 0, 0, 0, // mov callee@GOTPCREL(%rip), %rax
			0xe8, 0, 0, 0, 0, // call callee
			0xc3,
		}
		b.text(".text", code).
			reloc(3, elf.R_X86_64_GOTPCREL, callee, -4).
			reloc(8, elf.R_X86_64_PLT32, callee, -4)
		b.function(name, ".text", 0)
		b.cstrings(".rodata.str1.1", []byte(fmt.Sprintf("shared\x00only%d\x00", i)))
		b.sectionSym(".rodata.str1.1")
		b.data("strptrs", make([]byte, 16)).
			reloc(0, elf.R_X86_64_64, "section:.rodata.str1.1", 0).
			reloc(8, elf.R_X86_64_64, "section:.rodata.str1.1", 7)
		b.bss(".bss", 32, 0)
		b.object(fmt.Sprintf("buf%d", i), ".bss", 0, 32)
		if i == 0 {
			b.global("_start", ".text", 0)
		}
		paths = append(paths, b.write(t, dir, name+".o"))
	}
	return paths
}

func TestLinkIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	inputs := determinismInputs(t, dir)

	_, want, err := linkArgs(t, append([]string{"--threads=1"}, inputs...)...)
	require.NoError(t, err)

	for _, threads := range []string{"2", "8", "16"} {
		_, got, err := linkArgs(t, append([]string{"--threads", threads, "--validate-output"}, inputs...)...)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, got), "output differs with %s threads", threads)
	}
}

func gotLoadInputs(t *testing.T, dir string) []string {
	b := newObjBuilder()
	// mov foo@GOTPCREL(%rip), %rax; ret
	b.text(".text", []byte{0x48, 0x8b, 0x05, 0, 0, 0, 0, 0xc3}).
		reloc(3, elf.R_X86_64_REX_GOTPCRELX, "foo", -4)
	b.function("_start", ".text", 0)
	return []string{b.write(t, dir, "start.o"), funcObj("foo").write(t, dir, "foo.o")}
}

func TestGotLoadRelaxation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		opcode  byte
		relaxed bool
	}{
		{name: "relaxed", args: nil, opcode: 0x8d, relaxed: true},
		{name: "out of fuel", args: []string{"--debug-fuel=0"}, opcode: 0x8b, relaxed: false},
		{name: "one unit of fuel", args: []string{"--debug-fuel", "1"}, opcode: 0x8d, relaxed: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			args := append([]string{"--validate-output"}, tc.args...)
			ctx, f := mustLink(t, append(args, gotLoadInputs(t, dir)...)...)

			start := symAddr(t, ctx, "_start")
			foo := symAddr(t, ctx, "foo")
			assert.Equal(t, tc.opcode, bytesAt(t, f, start+1, 1)[0])

			res := resolutionOf(t, ctx, "foo")
			disp := rel32At(t, f, start+3)
			if tc.relaxed {
				assert.False(t, res.HasGot())
				assert.Equal(t, int32(foo-(start+7)), disp)
			} else {
				require.True(t, res.HasGot())
				assert.Equal(t, int32(res.GotAddress-(start+7)), disp)
				slot := bytesAt(t, f, res.GotAddress, 8)
				assert.Equal(t, foo, binary.LittleEndian.Uint64(slot))
			}
		})
	}
}

func TestValidateDetectsCorruptGot(t *testing.T) {
	dir := t.TempDir()
	ctx, buf, err := linkArgs(t, append([]string{"--debug-fuel=0"}, gotLoadInputs(t, dir)...)...)
	require.NoError(t, err)
	require.NoError(t, Validate(ctx.Layout, buf))

	res := resolutionOf(t, ctx, "foo")
	require.True(t, res.HasGot())

	corrupt := append([]byte(nil), buf...)
	off := ctx.Got.Shdr.Offset + (res.GotAddress - ctx.Got.Shdr.Addr)
	binary.LittleEndian.PutUint64(corrupt[off:], 0xdeadbeef)

	err = Validate(ctx.Layout, corrupt)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "foo", verr.Name)
	assert.Equal(t, uint64(0xdeadbeef), verr.Got)
	assert.Equal(t, res.Value.Addr, verr.Expected)
}

func TestTlsGeneralDynamicRelaxedToLocalExec(t *testing.T) {
	dir := t.TempDir()
	b := newObjBuilder()
	code := []byte{
		0x66, 0x48, 0x8d, 0x3d, 0, 0, 0, 0, // data16 lea tv@tlsgd(%rip), %rdi
		0x66, 0x66, 0x48, 0xe8, 0, 0, 0, 0, // data16 data16 rex.W call __tls_get_addr
		0xc3,
	}
	b.text(".text", code).
		reloc(4, elf.R_X86_64_TLSGD, "tv", -4).
		reloc(12, elf.R_X86_64_PLT32, "__tls_get_addr", -4)
	b.function("_start", ".text", 0)
	tdata := b.section(".tdata", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE|elf.SHF_TLS, make([]byte, 8))
	tdata.align = 8
	b.sym(testSym{name: "tv", section: ".tdata", size: 8, bind: elf.STB_GLOBAL, typ: elf.STT_TLS})

	ctx, f := mustLink(t, b.write(t, dir, "start.o"))

	start := symAddr(t, ctx, "_start")
	tv := symAddr(t, ctx, "tv")

	want := append([]byte(nil), tlsGdToLe...)
	want = binary.LittleEndian.AppendUint32(want, uint32(tv-ctx.Layout.TpAddr))
	assert.Equal(t, want, bytesAt(t, f, start, 16))

	var tls *elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_TLS {
			tls = p
		}
	}
	require.NotNil(t, tls)
	assert.Equal(t, uint64(8), tls.Memsz)
}

func TestRelocationErrors(t *testing.T) {
	t.Run("out of range", func(t *testing.T) {
		dir := t.TempDir()
		b := startObj("foo")
		b.data("table", []byte{0}).reloc(0, elf.R_X86_64_8, "foo", 0)

		_, _, err := linkArgs(t, b.write(t, dir, "start.o"), funcObj("foo").write(t, dir, "foo.o"))
		var rerr *RelocationRangeError
		require.True(t, errors.As(err, &rerr), "got %v", err)
		assert.Equal(t, "foo", rerr.Symbol)
		assert.Equal(t, 1, rerr.Width)
		assert.Contains(t, err.Error(), "out of range")
	})

	t.Run("unsupported type", func(t *testing.T) {
		dir := t.TempDir()
		b := startObj("foo")
		b.data("table", make([]byte, 8)).reloc(0, elf.R_X86_64(99999), "foo", 0)

		_, _, err := linkArgs(t, b.write(t, dir, "start.o"), funcObj("foo").write(t, dir, "foo.o"))
		var uerr *UnsupportedRelocationError
		require.True(t, errors.As(err, &uerr), "got %v", err)
		assert.Equal(t, uint32(99999), uerr.Type)
		assert.Contains(t, err.Error(), "unsupported relocation type 99999")
	})
}

func TestStringMerging(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 2; i++ {
		b := newObjBuilder()
		b.cstrings(".rodata.str1.1", []byte("hello\x00"))
		b.sectionSym(".rodata.str1.1")
		b.data("strptrs", make([]byte, 8)).reloc(0, elf.R_X86_64_64, "section:.rodata.str1.1", 0)
		if i == 0 {
			b.text(".text", []byte{0xc3})
			b.function("_start", ".text", 0)
		}
		paths = append(paths, b.write(t, dir, fmt.Sprintf("s%d.o", i)))
	}

	_, f := mustLink(t, paths...)

	ptrs := f.Section("strptrs")
	require.NotNil(t, ptrs)
	data, err := ptrs.Data()
	require.NoError(t, err)
	require.Len(t, data, 16)

	a := binary.LittleEndian.Uint64(data[0:])
	b := binary.LittleEndian.Uint64(data[8:])
	assert.Equal(t, a, b)
	assert.Equal(t, []byte("hello\x00"), bytesAt(t, f, a, 6))

	str := f.Section(".rodata.str")
	require.NotNil(t, str)
	assert.Equal(t, uint64(6), str.Size)
}

func TestGarbageCollection(t *testing.T) {
	dir := t.TempDir()
	b := startObj("foo")
	b.text(".text.foo", []byte{0xc3})
	b.function("foo", ".text.foo", 0)
	b.text(".text.unused", []byte{0x90, 0x90, 0xc3})
	b.function("unused", ".text.unused", 0)

	ctx, f := mustLink(t, b.write(t, dir, "start.o"))

	assert.Nil(t, resolutionOf(t, ctx, "unused"))
	assert.NotNil(t, resolutionOf(t, ctx, "foo"))

	text := f.Section(".text")
	require.NotNil(t, text)
	// _start (6 bytes) padded to 16, then foo.
	assert.Equal(t, uint64(17), text.Size)
}

func TestStaticRejectsSharedObject(t *testing.T) {
	dir := t.TempDir()
	start := startObj("foo").write(t, dir, "start.o")
	so := funcObj("foo")
	so.elfType = elf.ET_DYN
	lib := so.write(t, dir, "libfoo.so")

	_, _, err := linkArgs(t, "-static", start, lib)
	var cfg *ConfigError
	require.True(t, errors.As(err, &cfg), "got %v", err)
	assert.Contains(t, err.Error(), "static executable")
}

func TestPieEmitsRelativeRelocations(t *testing.T) {
	dir := t.TempDir()
	b := startObj("foo")
	b.data("ptrs", make([]byte, 8)).reloc(0, elf.R_X86_64_64, "foo", 0)

	ctx, f := mustLink(t, "-pie", b.write(t, dir, "start.o"), funcObj("foo").write(t, dir, "foo.o"))

	assert.Equal(t, elf.ET_DYN, f.Type)
	assert.Zero(t, ctx.Layout.BaseAddress)
	assert.Less(t, symAddr(t, ctx, "_start"), NonPieStartMemAddress)

	rels := relaEntries(t, f, ".rela.dyn")
	require.Len(t, rels, 1)
	assert.Equal(t, f.Section("ptrs").Addr, rels[0].Off)
	assert.Equal(t, uint32(elf.R_X86_64_RELATIVE), elf.R_TYPE64(rels[0].Info))
	assert.Equal(t, int64(symAddr(t, ctx, "foo")), rels[0].Addend)
	assert.NotNil(t, f.Section(".dynamic"))
}

func TestSharedObjectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	foo := funcObj("foo").write(t, dir, "foo.o")
	lib := filepath.Join(dir, "libfoo.so")

	arg, err := ParseArgs([]string{"-shared", "-soname", "libfoo.so", "-o", lib, foo})
	require.NoError(t, err)
	sctx := NewContext(arg)
	require.NoError(t, Link(sctx))
	require.NoError(t, sctx.Close())

	so, err := elf.Open(lib)
	require.NoError(t, err)
	defer so.Close()
	assert.Equal(t, elf.ET_DYN, so.Type)

	dynsyms, err := so.DynamicSymbols()
	require.NoError(t, err)
	var names []string
	for _, s := range dynsyms {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "foo")
	soname, err := so.DynString(elf.DT_SONAME)
	require.NoError(t, err)
	assert.Equal(t, []string{"libfoo.so"}, soname)

	t.Run("dynamic executable", func(t *testing.T) {
		start := startObj("foo").write(t, dir, "start.o")
		ctx, f := mustLink(t, "--dynamic-linker", "/lib64/ld-linux-x86-64.so.2", start, lib)

		assert.Equal(t, elf.ET_EXEC, f.Type)
		needed, err := f.ImportedLibraries()
		require.NoError(t, err)
		assert.Equal(t, []string{"libfoo.so"}, needed)

		interp := f.Section(".interp")
		require.NotNil(t, interp)
		data, err := interp.Data()
		require.NoError(t, err)
		assert.Equal(t, "/lib64/ld-linux-x86-64.so.2\x00", string(data))

		res := resolutionOf(t, ctx, "foo")
		require.NotNil(t, res)
		assert.Equal(t, ValueDynamic, res.Value.Kind)
		require.NotZero(t, res.PltAddress)
		require.True(t, res.HasGot())

		startAddr := symAddr(t, ctx, "_start")
		assert.Equal(t, int32(res.PltAddress-(startAddr+5)), rel32At(t, f, startAddr+1))

		rels := relaEntries(t, f, ".rela.dyn")
		require.Len(t, rels, 1)
		assert.Equal(t, res.GotAddress, rels[0].Off)
		assert.Equal(t, uint32(elf.R_X86_64_GLOB_DAT), elf.R_TYPE64(rels[0].Info))
		assert.Equal(t, res.Value.DynsymIdx, elf.R_SYM64(rels[0].Info))

		imports, err := f.ImportedSymbols()
		require.NoError(t, err)
		require.Len(t, imports, 1)
		assert.Equal(t, "foo", imports[0].Name)
	})

	t.Run("as-needed drops unused library", func(t *testing.T) {
		b := newObjBuilder()
		b.text(".text", []byte{0xc3})
		b.function("_start", ".text", 0)
		start := b.write(t, dir, "noref.o")

		_, f := mustLink(t, "--dynamic-linker", "/lib64/ld-linux-x86-64.so.2",
			start, "--as-needed", lib)
		needed, err := f.ImportedLibraries()
		require.NoError(t, err)
		assert.Empty(t, needed)

		_, f = mustLink(t, "--dynamic-linker", "/lib64/ld-linux-x86-64.so.2", start, lib)
		needed, err = f.ImportedLibraries()
		require.NoError(t, err)
		assert.Equal(t, []string{"libfoo.so"}, needed)
	})
}

func TestGotSlotsValidate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			dir := t.TempDir()
			n := 2 + rng.Intn(5)
			var paths []string
			for i := 0; i < n; i++ {
				b := newObjBuilder()
				var code []byte
				refs := 1 + rng.Intn(4)
				sec := &testSection{}
				for j := 0; j < refs; j++ {
					off := uint64(len(code)) + 3
					code = append(code, 0x48, 0x8b, 0x05, 0, 0, 0, 0)
					sec.reloc(off, elf.R_X86_64_GOTPCREL, fmt.Sprintf("f%d", rng.Intn(n)), -4)
				}
				code = append(code, 0xc3)
				text := b.text(".text", code)
				text.relocs = sec.relocs
				b.function(fmt.Sprintf("f%d", i), ".text", 0)
				if i == 0 {
					b.function("_start", ".text", 0)
				}
				paths = append(paths, b.write(t, dir, fmt.Sprintf("f%d.o", i)))
			}

			ctx, _, err := linkArgs(t, append([]string{"--validate-output"}, paths...)...)
			require.NoError(t, err)
			assert.NotZero(t, ctx.Got.Shdr.Size)
		})
	}
}
