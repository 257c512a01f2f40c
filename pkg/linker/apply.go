package linker

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/xld/pkg/utils"
)

var (
	// mov %fs:0, %rax; lea x@tpoff(%rax), %rax
	tlsGdToLe = []byte{0x64, 0x48, 0x8b, 0x04, 0x25, 0, 0, 0, 0, 0x48, 0x8d, 0x80}
	// data16 data16 data16 mov %fs:0, %rax
	tlsLdToLe = []byte{0x66, 0x66, 0x66, 0x64, 0x48, 0x8b, 0x04, 0x25, 0, 0, 0, 0}
)

// WriteObjectSections copies every live input section into ctx.Buf and
// applies its relocations. Files are written in parallel; each one only
// touches its own sections and its own range of .rela.dyn.
func WriteObjectSections(ctx *Context) error {
	return forEach(ctx, len(ctx.FileLayouts), func(i int) error {
		l, ok := ctx.FileLayouts[i].(*ObjectLayout)
		if !ok {
			return nil
		}

		l.nextDynReloc = 0
		for _, isec := range l.File.Sections {
			if isec == nil || !isec.IsAlive || isec.OutputSection == nil {
				continue
			}
			buf := ctx.Buf[isec.OutputSection.Shdr.Offset+uint64(isec.Offset):]
			if err := isec.WriteTo(ctx, buf); err != nil {
				return err
			}
		}

		if l.nextDynReloc != l.DynRelocCount {
			return &LayoutError{Msg: fmt.Sprintf("%s: wrote %d dynamic relocations, expected %d",
				l.File, l.nextDynReloc, l.DynRelocCount)}
		}
		return nil
	})
}

func (s *InputSection) layout(ctx *Context) *ObjectLayout {
	return ctx.FileLayouts[s.File.Index].(*ObjectLayout)
}

func (s *InputSection) emitDynReloc(ctx *Context, rel Rela) {
	l := s.layout(ctx)
	ctx.RelaDyn.Entries[l.DynRelocBase+l.nextDynReloc] = rel
	l.nextDynReloc++
}

func (s *InputSection) rangeError(rel *Rela, sym *Symbol, val uint64, size int) error {
	return &RelocationRangeError{
		Type:    rel.Type,
		Symbol:  sym.Name,
		File:    s.File.String(),
		Section: s.Name(),
		Offset:  rel.Offset,
		Value:   val,
		Width:   size,
	}
}

func fitsRange(val uint64, info RelocationKindInfo) bool {
	switch info.Range {
	case RangeSigned:
		return utils.FitsSigned(val, info.ByteSize)
	case RangeUnsigned:
		return utils.FitsUnsigned(val, info.ByteSize)
	}
	return utils.FitsSigned(val, info.ByteSize) || utils.FitsUnsigned(val, info.ByteSize)
}

func writeRelocValue(loc []byte, val uint64, size int) {
	switch size {
	case 1:
		loc[0] = uint8(val)
	case 2:
		utils.Write[uint16](loc, uint16(val))
	case 4:
		utils.Write[uint32](loc, uint32(val))
	case 8:
		utils.Write[uint64](loc, val)
	default:
		panic("unreachable")
	}
}

func (s *InputSection) ApplyRelocAlloc(ctx *Context, buf []byte) error {
	l := ctx.Layout
	rels := s.GetRels()

	for i := 0; i < len(rels); i++ {
		if s.Skipped.Contains(uint32(i)) {
			continue
		}

		rel := &rels[i]
		info, err := ClassifyRelocation(rel.Type)
		if err != nil {
			return err
		}
		if info.Kind == RelocationKindNone {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		res := l.SymbolResolution(sym.Id)
		if res == nil {
			return s.relocError("relocation %s refers to `%s`, which is not part of the output",
				relocName(rel.Type), sym.Name)
		}

		off := rel.Offset
		loc := buf[off:]
		relaxed := s.Relaxed.Contains(uint32(i))

		S := res.Value.Addr
		if res.Value.Kind == ValueDynamic && res.PltAddress != 0 {
			S = res.PltAddress
		}
		A := uint64(rel.Addend)
		P := s.GetAddr() + off

		var val uint64
		switch info.Kind {
		case RelocationKindAbsolute:
			val = S + A
			if info.ByteSize == 8 {
				if res.Value.Kind == ValueDynamic {
					s.emitDynReloc(ctx, Rela{
						Offset: P,
						Type:   uint32(elf.R_X86_64_64),
						Sym:    res.Value.DynsymIdx,
						Addend: rel.Addend,
					})
					val = 0
				} else if ctx.Arg.IsPositionIndependent() && res.Value.Kind == ValueAddress {
					s.emitDynReloc(ctx, Rela{
						Offset: P,
						Type:   uint32(elf.R_X86_64_RELATIVE),
						Addend: int64(val),
					})
				}
			}
		case RelocationKindRelative:
			val = S + A - P
		case RelocationKindGot:
			val = res.GotAddress + A - l.GotBase
		case RelocationKindGotRelative:
			if relaxed {
				// mov -> lea
				buf[off-2] = 0x8d
				val = S + A - P
			} else {
				val = res.GotAddress + A - P
			}
		case RelocationKindPltRelative:
			target := S
			if res.PltAddress != 0 {
				target = res.PltAddress
			}
			val = target + A - P
		case RelocationKindTlsGd:
			if relaxed {
				tpoff := S - l.TpAddr
				if !utils.FitsSigned(tpoff, 4) {
					return s.rangeError(rel, sym, tpoff, 4)
				}
				copy(buf[off-4:], tlsGdToLe)
				utils.Write[uint32](buf[off+8:], uint32(tpoff))
				continue
			}
			val = res.TlsGdAddress + A - P
		case RelocationKindTlsLd:
			if relaxed {
				copy(buf[off-3:], tlsLdToLe)
				continue
			}
			val = l.TlsLdGotAddress + A - P
		case RelocationKindDtpOff:
			if ctx.Arg.TlsMode() == TlsModeLocalExec {
				val = S + A - l.TpAddr
			} else {
				val = S + A - l.TlsStart
			}
		case RelocationKindGotTpOff:
			val = res.GotTpAddress + A - P
		case RelocationKindTpOff:
			val = S + A - l.TpAddr
		}

		if !fitsRange(val, info) {
			return s.rangeError(rel, sym, val, info.ByteSize)
		}
		writeRelocValue(loc, val, info.ByteSize)
	}
	return nil
}

// ApplyRelocNonAlloc patches debug and other unloaded sections. Only
// link-time constants are written; references to discarded code read 0.
func (s *InputSection) ApplyRelocNonAlloc(ctx *Context, buf []byte) error {
	l := ctx.Layout
	rels := s.GetRels()

	for i := range rels {
		rel := &rels[i]
		info, err := ClassifyRelocation(rel.Type)
		if err != nil {
			return err
		}
		if info.Kind == RelocationKindNone {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		res := l.SymbolResolution(sym.Id)
		if res == nil || res.Value.Kind == ValueDynamic {
			writeRelocValue(buf[rel.Offset:], 0, info.ByteSize)
			continue
		}

		S := res.Value.Addr
		A := uint64(rel.Addend)

		var val uint64
		switch info.Kind {
		case RelocationKindAbsolute:
			val = S + A
		case RelocationKindRelative:
			val = S + A - (s.GetAddr() + rel.Offset)
		case RelocationKindDtpOff:
			val = S + A - l.TlsStart
		default:
			return s.relocError("%s is not supported in a non-allocated section", relocName(rel.Type))
		}

		if !fitsRange(val, info) {
			return s.rangeError(rel, sym, val, info.ByteSize)
		}
		writeRelocValue(buf[rel.Offset:], val, info.ByteSize)
	}
	return nil
}
