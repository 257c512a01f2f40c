package linker

type TargetResolutionKind uint8

const (
	ResolutionNormal TargetResolutionKind = iota
	// ResolutionIFunc targets go through a PLT stub whose GOT slot is
	// filled by the resolver at startup.
	ResolutionIFunc
	// ResolutionTls is a thread-local symbol accessed without a GOT slot.
	ResolutionTls
	// ResolutionGotTlsOffset has a GOT slot holding its offset from the
	// thread pointer.
	ResolutionGotTlsOffset
	// ResolutionGotTlsModule has a module/offset GOT pair for
	// __tls_get_addr.
	ResolutionGotTlsModule
)

func (k TargetResolutionKind) String() string {
	switch k {
	case ResolutionNormal:
		return "Normal"
	case ResolutionIFunc:
		return "IFunc"
	case ResolutionTls:
		return "Tls"
	case ResolutionGotTlsOffset:
		return "GotTlsOffset"
	case ResolutionGotTlsModule:
		return "GotTlsModule"
	}
	return "Unknown"
}

type ValueKind uint8

const (
	// ValueAbsolute is fixed regardless of where the image is loaded.
	ValueAbsolute ValueKind = iota
	// ValueAddress moves with the load base.
	ValueAddress
	// ValueDynamic is only known to the dynamic linker.
	ValueDynamic
)

func (k ValueKind) String() string {
	switch k {
	case ValueAbsolute:
		return "Absolute"
	case ValueAddress:
		return "Address"
	case ValueDynamic:
		return "Dynamic"
	}
	return "Unknown"
}

type ResolutionValue struct {
	Kind      ValueKind
	Addr      uint64
	DynsymIdx uint32
}

func Absolute(addr uint64) ResolutionValue {
	return ResolutionValue{Kind: ValueAbsolute, Addr: addr}
}

func Address(addr uint64) ResolutionValue {
	return ResolutionValue{Kind: ValueAddress, Addr: addr}
}

func Dynamic(dynsymIdx uint32) ResolutionValue {
	return ResolutionValue{Kind: ValueDynamic, DynsymIdx: dynsymIdx}
}

// Resolution says where a symbol or section ended up. Zero addresses
// mean the slot does not exist.
type Resolution struct {
	Kind         TargetResolutionKind
	Value        ResolutionValue
	GotAddress   uint64
	PltAddress   uint64
	GotTpAddress uint64
	TlsGdAddress uint64
}

func (r *Resolution) HasGot() bool {
	return r.GotAddress != 0
}

// valueKindOf classifies how references to sym are satisfied. It only
// looks at resolution results, so it is safe to call before addresses
// are assigned.
func valueKindOf(ctx *Context, sym *Symbol) ValueKind {
	if sym.File == nil {
		return ValueAbsolute
	}
	if sym.File.IsDso {
		return ValueDynamic
	}
	if sym.File == &ctx.InternalObj.InputFile || sym.File == &ctx.EpilogueObj.InputFile {
		return ValueAddress
	}

	esym := sym.ElfSym()
	if esym.IsUndef() {
		if ctx.Arg.OutputKind == OutputKindSharedObject && !sym.IsLocal() {
			return ValueDynamic
		}
		return ValueAbsolute
	}
	if esym.IsAbs() && sym.SectionFragment == nil {
		return ValueAbsolute
	}
	return ValueAddress
}

func isFunctionSymbol(sym *Symbol) bool {
	return sym.File != nil && sym.ElfSym().IsFunc()
}
