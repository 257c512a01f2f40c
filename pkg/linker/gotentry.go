package linker

import "debug/elf"

type gotEntryKind uint8

const (
	gotEntryAddress gotEntryKind = iota
	gotEntryTpOff
	gotEntryTlsModule
	gotEntryTlsOffset
	gotEntryTlsLdModule
	gotEntryTlsLdOffset
)

type GotEntry struct {
	Idx  int64
	Kind gotEntryKind
	Sym  *Symbol
}

// dynamicReloc returns the dynamic relocation needed to finish e at load
// time, or R_X86_64_NONE when the slot is a link-time constant. IRELATIVE
// entries go to .rela.plt, everything else to .rela.dyn.
//
// It is called once to size the relocation tables and again to write
// them, so it must only depend on decisions made before layout.
func (e *GotEntry) dynamicReloc(ctx *Context) (rType elf.R_X86_64, inPlt bool) {
	shared := ctx.Arg.OutputKind == OutputKindSharedObject
	var vk ValueKind
	if e.Sym != nil {
		vk = valueKindOf(ctx, e.Sym)
	}

	switch e.Kind {
	case gotEntryAddress:
		switch {
		case e.Sym.IsIFunc():
			return elf.R_X86_64_IRELATIVE, true
		case vk == ValueDynamic:
			return elf.R_X86_64_GLOB_DAT, false
		case vk == ValueAddress && ctx.Arg.IsPositionIndependent():
			return elf.R_X86_64_RELATIVE, false
		}
	case gotEntryTpOff:
		if vk == ValueDynamic || shared {
			return elf.R_X86_64_TPOFF64, false
		}
	case gotEntryTlsModule:
		if vk == ValueDynamic || shared {
			return elf.R_X86_64_DTPMOD64, false
		}
	case gotEntryTlsOffset:
		if vk == ValueDynamic {
			return elf.R_X86_64_DTPOFF64, false
		}
	case gotEntryTlsLdModule:
		if shared {
			return elf.R_X86_64_DTPMOD64, false
		}
	}
	return elf.R_X86_64_NONE, false
}
