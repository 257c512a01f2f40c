package linker

import (
	"debug/elf"
)

var internalSymbolNames = []string{
	"__ehdr_start",
	"__executable_start",
	"__init_array_start",
	"__init_array_end",
	"__fini_array_start",
	"__fini_array_end",
	"__preinit_array_start",
	"__preinit_array_end",
	"__rela_iplt_start",
	"__rela_iplt_end",
	"_GLOBAL_OFFSET_TABLE_",
}

var epilogueSymbolNames = []string{
	"_DYNAMIC",
	"__bss_start",
	"_etext",
	"etext",
	"_edata",
	"edata",
	"_end",
	"end",
}

// newPseudoFile builds a file that defines names as weak hidden
// symbols. Their values are filled in once the layout is known.
func newPseudoFile(name string, priority uint32, names []string) *ObjectFile {
	obj := &ObjectFile{}
	obj.File = NewFileFromBytes(name, nil)
	obj.owner = obj
	obj.IsPseudo = true
	obj.IsAlive = true
	obj.Priority = priority
	obj.FirstGlobal = 1

	obj.ElfSyms = make([]Sym, 1, len(names)+1)
	obj.LocalSyms = []Symbol{*NewSymbol("")}
	obj.LocalSyms[0].File = &obj.InputFile
	obj.LocalSyms[0].SymIdx = 0
	obj.Symbols = make([]*Symbol, len(names)+1)
	obj.Symbols[0] = &obj.LocalSyms[0]

	for i, n := range names {
		obj.ElfSyms = append(obj.ElfSyms, Sym{
			Info:  NewSymInfo(elf.STB_WEAK, elf.STT_NOTYPE),
			Shndx: uint16(elf.SHN_ABS),
			Other: uint8(elf.STV_HIDDEN),
		})
		obj.GlobalNames = append(obj.GlobalNames, n)
		obj.definedGlobals = append(obj.definedGlobals, int64(i+1))
	}
	return obj
}

func CreateInternalFile(ctx *Context) {
	obj := newPseudoFile("<internal>", 1, internalSymbolNames)
	ctx.InternalObj = obj
	appendFile(ctx, obj)
	ctx.Objs = append(ctx.Objs, obj)
}

// CreateEpilogueFile must run after every real input was read so its
// symbols lose ties against all of them.
func CreateEpilogueFile(ctx *Context) {
	obj := newPseudoFile("<epilogue>", nextPriority(ctx), epilogueSymbolNames)
	ctx.EpilogueObj = obj
	appendFile(ctx, obj)
	ctx.Objs = append(ctx.Objs, obj)
}

// ownSymbol returns the symbol for name if the pseudo-file o still
// defines it after resolution.
func ownSymbol(ctx *Context, o *ObjectFile, name string) *Symbol {
	sym, ok := ctx.SymbolDB.GlobalNames[name]
	if !ok || sym.File != &o.InputFile {
		return nil
	}
	return sym
}

func BindSyntheticSymbols(ctx *Context) {
	in := func(name string) *Symbol { return ownSymbol(ctx, ctx.InternalObj, name) }
	ep := func(name string) *Symbol { return ownSymbol(ctx, ctx.EpilogueObj, name) }

	ctx.__EhdrStart = in("__ehdr_start")
	ctx.__ExecutableStart = in("__executable_start")
	ctx.__InitArrayStart = in("__init_array_start")
	ctx.__InitArrayEnd = in("__init_array_end")
	ctx.__FiniArrayStart = in("__fini_array_start")
	ctx.__FiniArrayEnd = in("__fini_array_end")
	ctx.__PreinitArrayStart = in("__preinit_array_start")
	ctx.__PreinitArrayEnd = in("__preinit_array_end")
	ctx.__RelaIpltStart = in("__rela_iplt_start")
	ctx.__RelaIpltEnd = in("__rela_iplt_end")
	ctx.__GlobalOffsetTable = in("_GLOBAL_OFFSET_TABLE_")

	ctx.__Dynamic = ep("_DYNAMIC")
	ctx.__BssStart = ep("__bss_start")
	ctx.__Etext = []*Symbol{ep("_etext"), ep("etext")}
	ctx.__Edata = []*Symbol{ep("_edata"), ep("edata")}
	ctx.__End = []*Symbol{ep("_end"), ep("end")}
}
