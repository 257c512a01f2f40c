package linker

import (
	"debug/elf"

	"github.com/ksco/xld/pkg/utils"
)

type InterpSection struct {
	Chunk
	Path string
}

func NewInterpSection(path string) *InterpSection {
	s := &InterpSection{Chunk: NewChunk(), Path: path}
	s.Name = ".interp"
	s.Shdr.Type = uint32(elf.SHT_PROGBITS)
	s.Shdr.Flags = uint64(elf.SHF_ALLOC)
	s.Shdr.Size = uint64(len(path)) + 1
	return s
}

func (s *InterpSection) CopyBuf(ctx *Context) {
	writeString(ctx.Buf[s.Shdr.Offset:], s.Path)
}

// StrtabSection is a string table that deduplicates its entries.
type StrtabSection struct {
	Chunk
	offsets  map[string]uint32
	contents []byte
}

type DynstrSection = StrtabSection
type ShstrtabSection = StrtabSection

func newStrtabSection(name string, flags uint64) *StrtabSection {
	s := &StrtabSection{
		Chunk:    NewChunk(),
		offsets:  make(map[string]uint32),
		contents: []byte{0},
	}
	s.Name = name
	s.Shdr.Type = uint32(elf.SHT_STRTAB)
	s.Shdr.Flags = flags
	s.Shdr.Size = 1
	return s
}

func NewDynstrSection() *DynstrSection {
	return newStrtabSection(".dynstr", uint64(elf.SHF_ALLOC))
}

func NewShstrtabSection() *ShstrtabSection {
	return newStrtabSection(".shstrtab", 0)
}

func (s *StrtabSection) Add(str string) uint32 {
	if str == "" {
		return 0
	}
	if off, ok := s.offsets[str]; ok {
		return off
	}
	off := uint32(len(s.contents))
	s.contents = append(s.contents, str...)
	s.contents = append(s.contents, 0)
	s.offsets[str] = off
	s.Shdr.Size = uint64(len(s.contents))
	return off
}

func (s *StrtabSection) CopyBuf(ctx *Context) {
	copy(ctx.Buf[s.Shdr.Offset:], s.contents)
}

// DynsymSection lists imports first, then exports ordered by GNU hash
// bucket.
type DynsymSection struct {
	Chunk
	Syms    []*Symbol
	names   []uint32
	Imports int
}

func NewDynsymSection() *DynsymSection {
	s := &DynsymSection{Chunk: NewChunk()}
	s.Name = ".dynsym"
	s.Shdr.Type = uint32(elf.SHT_DYNSYM)
	s.Shdr.Flags = uint64(elf.SHF_ALLOC)
	s.Shdr.EntSize = SymtabEntrySize
	s.Shdr.AddrAlign = 8
	s.Shdr.Info = 1
	s.Shdr.Size = SymtabEntrySize
	s.Syms = []*Symbol{nil}
	s.names = []uint32{0}
	return s
}

func (s *DynsymSection) AddSymbol(ctx *Context, sym *Symbol) {
	sym.SetDynsymIdx(ctx, int32(len(s.Syms)))
	s.Syms = append(s.Syms, sym)
	s.names = append(s.names, ctx.Dynstr.Add(sym.Name))
	s.Shdr.Size = uint64(len(s.Syms)) * SymtabEntrySize
}

func (s *DynsymSection) UpdateShdr(ctx *Context) {
	s.Shdr.Link = uint32(ctx.Dynstr.Shndx)
}

func (s *DynsymSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[s.Shdr.Offset:]
	for i := 1; i < len(s.Syms); i++ {
		sym := s.Syms[i]
		esym := sym.ElfSym()

		bind := elf.STB_GLOBAL
		if sym.IsWeak {
			bind = elf.STB_WEAK
		}
		typ := elf.SymType(esym.Type())
		if typ == elf.SymType(STT_GNU_IFUNC) && i <= s.Imports {
			typ = elf.STT_FUNC
		}

		out := Sym{
			Name:  s.names[i],
			Info:  NewSymInfo(bind, typ),
			Other: sym.Visibility,
		}
		if i > s.Imports {
			out.Val = sym.GetAddr()
			out.Size = esym.Size
			out.Shndx = uint16(symbolShndx(sym))
		}
		utils.Write[Sym](buf[i*SymtabEntrySize:], out)
	}
}

// symbolShndx returns the output section index holding sym.
func symbolShndx(sym *Symbol) int64 {
	switch {
	case sym.SectionFragment != nil:
		return sym.SectionFragment.OutputSection.Shndx
	case sym.InputSection != nil:
		return sym.InputSection.OutputSection.Shndx
	case sym.OutputSection != nil:
		return sym.OutputSection.GetShndx()
	}
	return int64(elf.SHN_ABS)
}

const gnuHashBloomShift = 26

func gnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

type GnuHashSection struct {
	Chunk
	NumBuckets uint32
	BloomWords uint32
}

func NewGnuHashSection() *GnuHashSection {
	s := &GnuHashSection{Chunk: NewChunk()}
	s.Name = ".gnu.hash"
	s.Shdr.Type = uint32(elf.SHT_GNU_HASH)
	s.Shdr.Flags = uint64(elf.SHF_ALLOC)
	s.Shdr.AddrAlign = 8
	return s
}

// SetExportCount sizes the table. It must be called before exports are
// sorted, since the bucket count decides the order.
func (s *GnuHashSection) SetExportCount(n int) {
	s.NumBuckets = uint32(n/8 + 1)
	bits := uint64(n) * 12
	words := uint64(1)
	for words*64 < bits {
		words <<= 1
	}
	s.BloomWords = uint32(words)
	s.Shdr.Size = 16 + uint64(s.BloomWords)*8 + uint64(s.NumBuckets)*4 + uint64(n)*4
}

func (s *GnuHashSection) UpdateShdr(ctx *Context) {
	s.Shdr.Link = uint32(ctx.Dynsym.Shndx)
}

func (s *GnuHashSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[s.Shdr.Offset:]
	syms := ctx.Dynsym.Syms
	symOffset := uint32(ctx.Dynsym.Imports + 1)
	exports := syms[symOffset:]

	utils.Write[uint32](buf, s.NumBuckets)
	utils.Write[uint32](buf[4:], symOffset)
	utils.Write[uint32](buf[8:], s.BloomWords)
	utils.Write[uint32](buf[12:], gnuHashBloomShift)

	bloom := buf[16:]
	buckets := bloom[s.BloomWords*8:]
	chains := buckets[s.NumBuckets*4:]

	hashes := make([]uint32, len(exports))
	for i, sym := range exports {
		hashes[i] = gnuHash(sym.Name)
	}

	for i, h := range hashes {
		word := (h / 64) % s.BloomWords
		cur := utils.Read[uint64](bloom[word*8:])
		cur |= 1<<(h%64) | 1<<((h>>gnuHashBloomShift)%64)
		utils.Write[uint64](bloom[word*8:], cur)

		bucket := h % s.NumBuckets
		if utils.Read[uint32](buckets[bucket*4:]) == 0 {
			utils.Write[uint32](buckets[bucket*4:], uint32(i)+symOffset)
		}

		val := h &^ 1
		if i == len(hashes)-1 || hashes[i+1]%s.NumBuckets != bucket {
			val |= 1
		}
		utils.Write[uint32](chains[i*4:], val)
	}
}

type RelaSection struct {
	Chunk
	Entries []Rela
}

func NewRelaSection(name string) *RelaSection {
	s := &RelaSection{Chunk: NewChunk()}
	s.Name = name
	s.Shdr.Type = uint32(elf.SHT_RELA)
	s.Shdr.Flags = uint64(elf.SHF_ALLOC)
	s.Shdr.AddrAlign = 8
	s.Shdr.EntSize = RelaEntrySize
	return s
}

func (s *RelaSection) SetCount(n int) {
	s.Entries = make([]Rela, n)
	s.Shdr.Size = uint64(n) * RelaEntrySize
}

func (s *RelaSection) UpdateShdr(ctx *Context) {
	if ctx.Dynsym != nil {
		s.Shdr.Link = uint32(ctx.Dynsym.Shndx)
	}
}

func (s *RelaSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[s.Shdr.Offset:]
	for i, rel := range s.Entries {
		utils.Write[Rela](buf[i*RelaEntrySize:], rel)
	}
}

type DynamicSection struct {
	Chunk
}

func NewDynamicSection() *DynamicSection {
	s := &DynamicSection{Chunk: NewChunk()}
	s.Name = ".dynamic"
	s.Shdr.Type = uint32(elf.SHT_DYNAMIC)
	s.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	s.Shdr.AddrAlign = 8
	s.Shdr.EntSize = DynEntrySize
	return s
}

func (s *DynamicSection) UpdateShdr(ctx *Context) {
	s.Shdr.Link = uint32(ctx.Dynstr.Shndx)
	s.Shdr.Size = uint64(len(createDynamicEntries(ctx))) * DynEntrySize
}

func (s *DynamicSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[s.Shdr.Offset:]
	for i, dyn := range createDynamicEntries(ctx) {
		utils.Write[Dyn](buf[i*DynEntrySize:], dyn)
	}
}

func createDynamicEntries(ctx *Context) []Dyn {
	var vec []Dyn
	define := func(tag elf.DynTag, val uint64) {
		vec = append(vec, Dyn{Tag: int64(tag), Val: val})
	}

	for _, dso := range ctx.Dsos {
		if dso.IsAlive {
			define(elf.DT_NEEDED, uint64(ctx.Dynstr.Add(dso.Soname)))
		}
	}

	if ctx.Arg.OutputKind == OutputKindSharedObject && ctx.Arg.Soname != "" {
		define(elf.DT_SONAME, uint64(ctx.Dynstr.Add(ctx.Arg.Soname)))
	}

	if ctx.RelaDyn.Shdr.Size > 0 {
		define(elf.DT_RELA, ctx.RelaDyn.Shdr.Addr)
		define(elf.DT_RELASZ, ctx.RelaDyn.Shdr.Size)
		define(elf.DT_RELAENT, RelaEntrySize)
	}

	if ctx.RelaPlt.Shdr.Size > 0 {
		define(elf.DT_JMPREL, ctx.RelaPlt.Shdr.Addr)
		define(elf.DT_PLTRELSZ, ctx.RelaPlt.Shdr.Size)
		define(elf.DT_PLTREL, uint64(elf.DT_RELA))
	}

	define(elf.DT_SYMTAB, ctx.Dynsym.Shdr.Addr)
	define(elf.DT_SYMENT, SymtabEntrySize)
	define(elf.DT_STRTAB, ctx.Dynstr.Shdr.Addr)
	define(elf.DT_STRSZ, ctx.Dynstr.Shdr.Size)
	define(elf.DT_GNU_HASH, ctx.GnuHash.Shdr.Addr)

	for _, chunk := range ctx.Chunks {
		switch elf.SectionType(chunk.GetShdr().Type) {
		case elf.SHT_INIT_ARRAY:
			define(elf.DT_INIT_ARRAY, chunk.GetShdr().Addr)
			define(elf.DT_INIT_ARRAYSZ, chunk.GetShdr().Size)
		case elf.SHT_FINI_ARRAY:
			define(elf.DT_FINI_ARRAY, chunk.GetShdr().Addr)
			define(elf.DT_FINI_ARRAYSZ, chunk.GetShdr().Size)
		case elf.SHT_PREINIT_ARRAY:
			if ctx.Arg.OutputKind.IsExecutable() {
				define(elf.DT_PREINIT_ARRAY, chunk.GetShdr().Addr)
				define(elf.DT_PREINIT_ARRAYSZ, chunk.GetShdr().Size)
			}
		}
	}

	if sym := definedSymbol(ctx, "_init"); sym != nil {
		define(elf.DT_INIT, sym.GetAddr())
	}
	if sym := definedSymbol(ctx, "_fini"); sym != nil {
		define(elf.DT_FINI, sym.GetAddr())
	}

	if ctx.Arg.OutputKind.IsExecutable() {
		define(elf.DT_DEBUG, 0)
	}

	define(elf.DT_FLAGS, DF_BIND_NOW)
	flags1 := DF_1_NOW
	if ctx.Arg.Pie && ctx.Arg.OutputKind.IsExecutable() {
		flags1 |= DF_1_PIE
	}
	define(elf.DT_FLAGS_1, flags1)
	define(elf.DT_NULL, 0)
	return vec
}

// definedSymbol returns the symbol named name if a loaded object
// defines it.
func definedSymbol(ctx *Context, name string) *Symbol {
	sym, ok := ctx.SymbolDB.GlobalNames[name]
	if !ok || sym.File == nil || sym.File.IsDso || !sym.File.IsAlive || sym.ElfSym().IsUndef() {
		return nil
	}
	if sym.InputSection != nil && !sym.InputSection.IsAlive {
		return nil
	}
	return sym
}
