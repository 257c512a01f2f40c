package linker

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/ksco/xld/pkg/logger"
)

// slotRequests collects, by symbol id, the GOT, PLT and TLS slots one
// file needs. Slots themselves are allocated later in id order.
type slotRequests struct {
	Got     *roaring.Bitmap
	GotTp   *roaring.Bitmap
	TlsGd   *roaring.Bitmap
	Plt     *roaring.Bitmap
	Dynamic *roaring.Bitmap
	TlsLd   bool
}

func newSlotRequests() slotRequests {
	return slotRequests{
		Got:     roaring.New(),
		GotTp:   roaring.New(),
		TlsGd:   roaring.New(),
		Plt:     roaring.New(),
		Dynamic: roaring.New(),
	}
}

var (
	tlsGdPrefix = []byte{0x66, 0x48, 0x8d, 0x3d} // data16 lea x@tlsgd(%rip), %rdi
	tlsGdCall   = []byte{0x66, 0x66, 0x48, 0xe8} // data16 data16 rex.W call
	tlsLdPrefix = []byte{0x48, 0x8d, 0x3d}       // lea x@tlsld(%rip), %rdi
)

func (o *ObjectFile) scanRelocations(ctx *Context, l *ObjectLayout) error {
	for _, isec := range o.Sections {
		if isec == nil || !isec.IsAlive {
			continue
		}
		if err := isec.scanRelocations(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func (s *InputSection) relocError(format string, args ...any) error {
	return configErrorf("%s:(%s): %s", s.File, s.Name(), fmt.Sprintf(format, args...))
}

func (s *InputSection) scanRelocations(ctx *Context, l *ObjectLayout) error {
	rels := s.GetRels()
	alloc := s.IsAlloc()
	req := &l.Requests

	for i := 0; i < len(rels); i++ {
		rel := &rels[i]
		info, err := ClassifyRelocation(rel.Type)
		if err != nil {
			return fmt.Errorf("%s:(%s+0x%x): %w", s.File, s.Name(), rel.Offset, err)
		}
		if info.Kind == RelocationKindNone || s.Skipped.Contains(uint32(i)) {
			continue
		}
		if rel.Offset+uint64(info.ByteSize) > uint64(len(s.Contents)) {
			return s.relocError("relocation at 0x%x is out of section bounds", rel.Offset)
		}
		if int(rel.Sym) >= len(s.File.Symbols) {
			return s.relocError("invalid symbol index %d", rel.Sym)
		}

		sym := s.File.Symbols[rel.Sym]
		if sym.File == nil {
			if alloc {
				l.Undefined.Add(uint32(sym.Id))
			}
			continue
		}

		if !alloc {
			switch info.Kind {
			case RelocationKindAbsolute, RelocationKindRelative, RelocationKindDtpOff:
			default:
				return s.relocError("%s is not supported in a non-allocated section", relocName(rel.Type))
			}
			continue
		}

		if sym.IsDiscarded {
			return s.relocError("relocation %s refers to a discarded section", relocName(rel.Type))
		}

		vk := valueKindOf(ctx, sym)
		id := uint32(sym.Id)
		if vk == ValueDynamic {
			req.Dynamic.Add(id)
		}
		if sym.IsIFunc() {
			req.Plt.Add(id)
		}

		switch info.Kind {
		case RelocationKindAbsolute:
			if vk == ValueDynamic {
				if info.ByteSize == 8 {
					l.DynRelocCount++
					break
				}
				if isFunctionSymbol(sym) && ctx.Arg.OutputKind.IsExecutable() {
					req.Plt.Add(id)
					break
				}
				return s.relocError("%s against `%s` needs a copy relocation, which is not supported",
					relocName(rel.Type), sym.Name)
			}
			if ctx.Arg.IsPositionIndependent() && (vk == ValueAddress || sym.IsIFunc()) {
				if info.ByteSize != 8 {
					return s.relocError("relocation %s against `%s` cannot be used when making a "+
						"position-independent output; recompile with -fPIC", relocName(rel.Type), sym.Name)
				}
				l.DynRelocCount++
			}
		case RelocationKindRelative:
			if vk == ValueDynamic {
				if isFunctionSymbol(sym) && ctx.Arg.OutputKind.IsExecutable() {
					req.Plt.Add(id)
					break
				}
				return s.relocError("%s against `%s` needs a copy relocation, which is not supported",
					relocName(rel.Type), sym.Name)
			}
		case RelocationKindGot:
			req.Got.Add(id)
		case RelocationKindGotRelative:
			if s.canRelaxGotLoad(rel, sym, vk) && ctx.Arg.DebugFuel.Allow() {
				s.Relaxed.Add(uint32(i))
				logger.Debugw("relaxing GOT load", "file", s.File.String(),
					"section", s.Name(), "offset", rel.Offset, "symbol", sym.Name)
			} else {
				req.Got.Add(id)
			}
		case RelocationKindPltRelative:
			if vk == ValueDynamic {
				req.Plt.Add(id)
			}
		case RelocationKindTlsGd:
			if ctx.Arg.TlsMode() == TlsModeLocalExec && vk != ValueDynamic {
				if err := s.checkTlsSequence(i, tlsGdPrefix, 8); err != nil {
					return err
				}
				s.Relaxed.Add(uint32(i))
				s.Skipped.Add(uint32(i + 1))
			} else {
				req.TlsGd.Add(id)
			}
		case RelocationKindTlsLd:
			if ctx.Arg.TlsMode() == TlsModeLocalExec {
				if err := s.checkTlsSequence(i, tlsLdPrefix, 5); err != nil {
					return err
				}
				s.Relaxed.Add(uint32(i))
				s.Skipped.Add(uint32(i + 1))
			} else {
				req.TlsLd = true
			}
		case RelocationKindDtpOff:
		case RelocationKindGotTpOff:
			req.GotTp.Add(id)
		case RelocationKindTpOff:
			if ctx.Arg.OutputKind == OutputKindSharedObject {
				return s.relocError("relocation %s against `%s` cannot be used when making a shared object",
					relocName(rel.Type), sym.Name)
			}
		}
	}
	return nil
}

// canRelaxGotLoad reports whether `mov foo@GOTPCREL(%rip), %reg` may be
// turned into `lea foo(%rip), %reg`.
func (s *InputSection) canRelaxGotLoad(rel *Rela, sym *Symbol, vk ValueKind) bool {
	switch elf.R_X86_64(rel.Type) {
	case elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX:
	default:
		return false
	}
	if vk != ValueAddress || sym.IsIFunc() || rel.Offset < 2 {
		return false
	}
	return s.Contents[rel.Offset-2] == 0x8b
}

// checkTlsSequence verifies that relocation i starts one of the fixed
// code sequences for __tls_get_addr which can be rewritten in place.
func (s *InputSection) checkTlsSequence(i int, prefix []byte, callOffset uint64) error {
	rels := s.GetRels()
	rel := rels[i]
	off := rel.Offset

	ok := off >= uint64(len(prefix)) &&
		bytes.Equal(s.Contents[off-uint64(len(prefix)):off], prefix) &&
		off+callOffset+4 <= uint64(len(s.Contents)) &&
		i+1 < len(rels) && rels[i+1].Offset == off+callOffset
	if ok && len(prefix) == len(tlsGdPrefix) {
		ok = bytes.Equal(s.Contents[off+4:off+8], tlsGdCall)
	} else if ok {
		ok = s.Contents[off+4] == 0xe8
	}
	if ok {
		switch elf.R_X86_64(rels[i+1].Type) {
		case elf.R_X86_64_PLT32, elf.R_X86_64_PC32:
		default:
			ok = false
		}
	}
	if !ok {
		return s.relocError("unsupported TLS code sequence for %s at 0x%x", relocName(rel.Type), off)
	}
	return nil
}
