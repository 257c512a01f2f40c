package linker

import (
	"debug/elf"

	"github.com/ksco/xld/pkg/utils"
)

// PltSection holds one stub per imported or ifunc function. Outputs are
// always bound at startup, so there is no lazy-binding header and every
// stub jumps straight through its GOT slot.
type PltSection struct {
	Chunk
	Syms []*Symbol
}

func NewPltSection() *PltSection {
	p := &PltSection{Chunk: NewChunk()}
	p.Name = ".plt"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	p.Shdr.EntSize = PltEntrySize
	return p
}

func (p *PltSection) AddSymbol(ctx *Context, sym *Symbol) {
	sym.SetPltIdx(ctx, int32(len(p.Syms)))
	p.Syms = append(p.Syms, sym)
	p.Shdr.Size = uint64(len(p.Syms)) * PltEntrySize
}

func (p *PltSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[p.Shdr.Offset:]
	for i, sym := range p.Syms {
		ent := buf[i*PltEntrySize:]
		copy(ent, PltEntryTemplate)

		end := p.Shdr.Addr + uint64(i)*PltEntrySize + PltJmpEnd
		utils.Write[uint32](ent[PltGotOffsetField:], uint32(sym.GetGotAddr(ctx)-end))
	}
}
