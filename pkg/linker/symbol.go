package linker

import (
	"debug/elf"
)

// SymbolId indexes SymbolDatabase.Symbols. Ids are handed out in link
// order so they are identical for every thread count.
type SymbolId uint32

type Symbol struct {
	Id   SymbolId
	File *InputFile

	InputSection    *InputSection
	OutputSection   Chunker
	SectionFragment *SectionFragment

	Value uint64
	Name  string

	SymIdx int32
	AuxIdx int32

	Visibility uint8

	IsWeak     bool
	IsExported bool
	IsImported bool

	// IsDiscarded is set on local symbols whose section was dropped
	// while parsing.
	IsDiscarded bool
}

func NewSymbol(name string) *Symbol {
	s := &Symbol{
		Name:       name,
		SymIdx:     -1,
		AuxIdx:     -1,
		Visibility: uint8(elf.STV_DEFAULT),
	}
	return s
}

func (s *Symbol) SetInputSection(isec *InputSection) {
	s.InputSection = isec
	s.OutputSection = nil
	s.SectionFragment = nil
}

func (s *Symbol) SetOutputSection(osec Chunker) {
	s.InputSection = nil
	s.OutputSection = osec
	s.SectionFragment = nil
}

func (s *Symbol) SetSectionFragment(frag *SectionFragment) {
	s.InputSection = nil
	s.OutputSection = nil
	s.SectionFragment = frag
}

func (s *Symbol) aux(ctx *Context) *SymbolAux {
	if s.AuxIdx == -1 {
		return nil
	}
	return &ctx.SymbolsAux[s.AuxIdx]
}

func (s *Symbol) GetGotIdx(ctx *Context) int32 {
	if a := s.aux(ctx); a != nil {
		return a.GotIdx
	}
	return -1
}

func (s *Symbol) GetGotTpIdx(ctx *Context) int32 {
	if a := s.aux(ctx); a != nil {
		return a.GotTpIdx
	}
	return -1
}

func (s *Symbol) GetTlsGdIdx(ctx *Context) int32 {
	if a := s.aux(ctx); a != nil {
		return a.TlsGdIdx
	}
	return -1
}

func (s *Symbol) GetPltIdx(ctx *Context) int32 {
	if a := s.aux(ctx); a != nil {
		return a.PltIdx
	}
	return -1
}

func (s *Symbol) GetDynsymIdx(ctx *Context) int32 {
	if a := s.aux(ctx); a != nil {
		return a.DynsymIdx
	}
	return -1
}

func (s *Symbol) SetGotIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].GotIdx = idx
}

func (s *Symbol) SetGotTpIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].GotTpIdx = idx
}

func (s *Symbol) SetTlsGdIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].TlsGdIdx = idx
}

func (s *Symbol) SetPltIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].PltIdx = idx
}

func (s *Symbol) SetDynsymIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].DynsymIdx = idx
}

func (s *Symbol) ElfSym() *Sym {
	return &s.File.ElfSyms[s.SymIdx]
}

func (s *Symbol) GetAddr() uint64 {
	if s.SectionFragment != nil {
		if !s.SectionFragment.IsAlive {
			return 0
		}
		return s.SectionFragment.GetAddr() + s.Value
	}

	if s.InputSection == nil {
		return s.Value
	}

	if !s.InputSection.IsAlive {
		return 0
	}

	return s.InputSection.GetAddr() + s.Value
}

func (s *Symbol) GetGotAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotIdx(ctx))*GotEntrySize
}

func (s *Symbol) GetGotTpAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotTpIdx(ctx))*GotEntrySize
}

func (s *Symbol) GetTlsGdAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetTlsGdIdx(ctx))*GotEntrySize
}

func (s *Symbol) GetPltAddr(ctx *Context) uint64 {
	return ctx.Plt.Shdr.Addr + uint64(s.GetPltIdx(ctx))*PltEntrySize
}

func (s *Symbol) IsIFunc() bool {
	return s.File != nil && !s.File.IsDso && s.ElfSym().IsIFunc()
}

func (s *Symbol) IsTls() bool {
	return s.File != nil && s.ElfSym().IsTls()
}

func (s *Symbol) IsLocal() bool {
	return s.File != nil && int64(s.SymIdx) < s.File.FirstGlobal && s.Name != "<fragment>"
}

func (s *Symbol) Clear() {
	s.File = nil
	s.SectionFragment = nil
	s.OutputSection = nil
	s.InputSection = nil
	s.SymIdx = -1
	s.IsWeak = false
	s.IsExported = false
	s.IsImported = false
}

func (s *Symbol) GetRank() uint64 {
	if s.File == nil {
		return 7 << 32
	}
	return GetRank(s.File, s.ElfSym(), !s.File.IsAlive)
}

type SymbolAux struct {
	GotIdx    int32
	GotTpIdx  int32
	TlsGdIdx  int32
	PltIdx    int32
	DynsymIdx int32
}

func NewSymbolAux() SymbolAux {
	return SymbolAux{
		GotIdx:    -1,
		GotTpIdx:  -1,
		TlsGdIdx:  -1,
		PltIdx:    -1,
		DynsymIdx: -1,
	}
}
