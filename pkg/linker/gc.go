package linker

import (
	"debug/elf"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/ksco/xld/pkg/logger"
)

type liveSection struct {
	file  *ObjectFile
	shndx uint32
}

// MarkLiveSections discards allocated sections that are unreachable from
// the GC roots. Reachability follows relocations out of allocated
// sections only; non-allocated sections are always kept but never keep
// anything else alive.
func MarkLiveSections(ctx *Context) {
	var queue []liveSection

	mark := func(isec *InputSection) {
		if isec == nil || !isec.IsAlive {
			return
		}
		o := isec.File
		if o.LiveSections.CheckedAdd(isec.Shndx) {
			queue = append(queue, liveSection{o, isec.Shndx})
		}
	}

	markSymbol := func(sym *Symbol) {
		if sym == nil || sym.File == nil || sym.File.IsDso {
			return
		}
		mark(sym.InputSection)
	}

	for _, o := range ctx.Objs {
		o.LiveSections = roaring.New()
	}

	for _, o := range ctx.Objs {
		if !o.IsAlive {
			continue
		}
		for _, isec := range o.Sections {
			if isec != nil && isec.IsAlive && isec.IsAlloc() && isGCRoot(isec) {
				mark(isec)
			}
		}
	}

	if sym, ok := ctx.SymbolDB.GlobalNames[ctx.Arg.Entry]; ok {
		markSymbol(sym)
	}

	for _, sym := range ctx.SymbolDB.GlobalNames {
		if sym.File == nil || !sym.File.IsAlive {
			continue
		}
		if ctx.Arg.OutputKind == OutputKindSharedObject && sym.Visibility != uint8(elf.STV_HIDDEN) {
			markSymbol(sym)
		}
	}

	for len(queue) > 0 {
		item := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		isec := item.file.Sections[item.shndx]
		for _, rel := range isec.GetRels() {
			if int(rel.Sym) >= len(item.file.Symbols) {
				continue
			}
			markSymbol(item.file.Symbols[rel.Sym])
		}
	}

	removed := 0
	for _, o := range ctx.Objs {
		for _, isec := range o.Sections {
			if isec == nil || !isec.IsAlive || !isec.IsAlloc() {
				continue
			}
			if !o.LiveSections.Contains(isec.Shndx) {
				isec.IsAlive = false
				removed++
			}
		}
	}
	logger.Debugw("garbage collected sections", "count", removed)
}

func isGCRoot(isec *InputSection) bool {
	shdr := isec.Shdr()
	if shdr.Flags&SHF_GNU_RETAIN != 0 {
		return true
	}

	switch elf.SectionType(shdr.Type) {
	case elf.SHT_INIT_ARRAY, elf.SHT_FINI_ARRAY, elf.SHT_PREINIT_ARRAY, elf.SHT_NOTE:
		return true
	}

	name := isec.Name()
	for _, prefix := range []string{".init_array", ".fini_array", ".preinit_array",
		".ctors", ".dtors", ".init", ".fini", ".note"} {
		if name == prefix || strings.HasPrefix(name, prefix+".") {
			return true
		}
	}
	return isCIdentifier(name)
}

// Sections named like C identifiers are reached through __start_ and
// __stop_ symbols rather than relocations.
func isCIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
