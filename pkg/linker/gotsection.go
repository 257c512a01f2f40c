package linker

import (
	"debug/elf"

	"github.com/ksco/xld/pkg/utils"
)

type GotSection struct {
	Chunk
	Entries  []GotEntry
	TlsLdIdx int32
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk(), TlsLdIdx: -1}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotSection) add(kind gotEntryKind, sym *Symbol) int32 {
	idx := int32(len(g.Entries))
	g.Entries = append(g.Entries, GotEntry{Idx: int64(idx), Kind: kind, Sym: sym})
	g.Shdr.Size = uint64(len(g.Entries)) * GotEntrySize
	return idx
}

func (g *GotSection) AddGotSymbol(ctx *Context, sym *Symbol) {
	sym.SetGotIdx(ctx, g.add(gotEntryAddress, sym))
}

func (g *GotSection) AddGotTpSymbol(ctx *Context, sym *Symbol) {
	sym.SetGotTpIdx(ctx, g.add(gotEntryTpOff, sym))
}

func (g *GotSection) AddTlsGdSymbol(ctx *Context, sym *Symbol) {
	sym.SetTlsGdIdx(ctx, g.add(gotEntryTlsModule, sym))
	g.add(gotEntryTlsOffset, sym)
}

func (g *GotSection) AddTlsLd(ctx *Context) {
	if g.TlsLdIdx != -1 {
		return
	}
	g.TlsLdIdx = g.add(gotEntryTlsLdModule, nil)
	g.add(gotEntryTlsLdOffset, nil)
}

func (g *GotSection) GetTlsLdAddr() uint64 {
	return g.Shdr.Addr + uint64(g.TlsLdIdx)*GotEntrySize
}

// DynRelocCounts returns how many entries .rela.dyn and .rela.plt need.
func (g *GotSection) DynRelocCounts(ctx *Context) (dyn int, plt int) {
	for i := range g.Entries {
		rType, inPlt := g.Entries[i].dynamicReloc(ctx)
		switch {
		case rType == elf.R_X86_64_NONE:
		case inPlt:
			plt++
		default:
			dyn++
		}
	}
	return dyn, plt
}

// value is what the slot holds at link time. For slots finished by a
// dynamic relocation it doubles as the relocation addend.
func (g *GotSection) value(ctx *Context, e *GotEntry) uint64 {
	switch e.Kind {
	case gotEntryAddress:
		if e.Sym.IsIFunc() {
			return e.Sym.GetAddr()
		}
		if valueKindOf(ctx, e.Sym) == ValueDynamic {
			return 0
		}
		return e.Sym.GetAddr()
	case gotEntryTpOff:
		if valueKindOf(ctx, e.Sym) == ValueDynamic {
			return 0
		}
		if ctx.Arg.OutputKind == OutputKindSharedObject {
			return e.Sym.GetAddr() - ctx.TlsStart
		}
		return e.Sym.GetAddr() - ctx.TpAddr
	case gotEntryTlsModule:
		if ctx.Arg.OutputKind.IsExecutable() {
			return CurrentExeTlsMod
		}
	case gotEntryTlsOffset:
		if valueKindOf(ctx, e.Sym) == ValueDynamic {
			return 0
		}
		return e.Sym.GetAddr() - ctx.TlsStart
	case gotEntryTlsLdModule:
		if ctx.Arg.OutputKind.IsExecutable() {
			return CurrentExeTlsMod
		}
	}
	return 0
}

func (g *GotSection) UpdateShdr(ctx *Context) {
	if g.Shdr.Size == 0 {
		g.Shdr.Size = GotEntrySize
	}
}

// CopyBuf writes the slots and their dynamic relocations, which take
// the front of .rela.dyn and of .rela.plt.
func (g *GotSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[g.Shdr.Offset:]
	dynIdx, pltIdx := 0, 0

	for i := range g.Entries {
		ent := &g.Entries[i]
		val := g.value(ctx, ent)
		addr := g.Shdr.Addr + uint64(ent.Idx)*GotEntrySize

		rType, inPlt := ent.dynamicReloc(ctx)
		if rType != elf.R_X86_64_NONE {
			rel := Rela{Offset: addr, Type: uint32(rType)}
			switch rType {
			case elf.R_X86_64_RELATIVE, elf.R_X86_64_IRELATIVE:
				rel.Addend = int64(val)
			case elf.R_X86_64_TPOFF64:
				if valueKindOf(ctx, ent.Sym) == ValueDynamic {
					rel.Sym = uint32(ent.Sym.GetDynsymIdx(ctx))
				} else {
					rel.Addend = int64(val)
				}
			case elf.R_X86_64_DTPMOD64:
				if ent.Sym != nil && valueKindOf(ctx, ent.Sym) == ValueDynamic {
					rel.Sym = uint32(ent.Sym.GetDynsymIdx(ctx))
				}
			default:
				rel.Sym = uint32(ent.Sym.GetDynsymIdx(ctx))
			}

			if inPlt {
				ctx.RelaPlt.Entries[pltIdx] = rel
				pltIdx++
			} else {
				ctx.RelaDyn.Entries[dynIdx] = rel
				dynIdx++
			}
		}

		if rType != elf.R_X86_64_IRELATIVE {
			utils.Write[uint64](buf[ent.Idx*GotEntrySize:], val)
		}
	}
}
