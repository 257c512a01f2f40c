package linker

import (
	"debug/elf"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/ksco/xld/pkg/utils"
)

// Layout is the final placement of everything in the output.
type Layout struct {
	Args        *ContextArg
	SymbolDB    *SymbolDatabase
	FileLayouts []FileLayout

	// SymbolResolutions is indexed by SymbolId. Symbols that are not
	// part of the output have no entry.
	SymbolResolutions []*Resolution

	BaseAddress     uint64
	GotBase         uint64
	TlsStart        uint64
	TlsEnd          uint64
	TpAddr          uint64
	TlsLdGotAddress uint64
	FileSize        uint64
}

func (l *Layout) SymbolResolution(id SymbolId) *Resolution {
	if int(id) >= len(l.SymbolResolutions) {
		return nil
	}
	return l.SymbolResolutions[id]
}

// AssembleLayout merges the per-file layouts into one address space
// starting at baseAddress. It runs on one goroutine and visits files,
// symbols and chunks in a fixed order.
func AssembleLayout(ctx *Context, fileLayouts []FileLayout, baseAddress uint64) (*Layout, error) {
	ctx.FileLayouts = fileLayouts

	CreateSyntheticSections(ctx)
	allocateSlots(ctx, fileLayouts)
	if ctx.Dynsym != nil {
		collectDynamicSymbols(ctx, fileLayouts)
	}
	sizeRelocationSections(ctx, fileLayouts)

	if err := BinSections(ctx); err != nil {
		return nil, err
	}
	ComputeSectionSizes(ctx)
	ComputeMergedSectionSizes(ctx)

	ctx.Chunks = append(ctx.Chunks, CollectOutputSections(ctx)...)
	ctx.Chunks = utils.RemoveIf[Chunker](ctx.Chunks, func(chunk Chunker) bool {
		return isDroppableChunk(ctx, chunk)
	})
	SortOutputSections(ctx)
	assignSectionIndices(ctx)

	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}

	fileSize, err := SetOsecOffsets(ctx, baseAddress)
	if err != nil {
		return nil, err
	}

	FixSyntheticSymbols(ctx)

	l := &Layout{
		Args:        ctx.Arg,
		SymbolDB:    ctx.SymbolDB,
		FileLayouts: fileLayouts,
		BaseAddress: baseAddress,
		GotBase:     ctx.Got.Shdr.Addr,
		TlsStart:    ctx.TlsStart,
		TlsEnd:      ctx.TlsEnd,
		TpAddr:      ctx.TpAddr,
		FileSize:    fileSize,
	}
	if ctx.Got.TlsLdIdx != -1 {
		l.TlsLdGotAddress = ctx.Got.GetTlsLdAddr()
	}

	l.SymbolResolutions = make([]*Resolution, ctx.SymbolDB.Len())
	for id, sym := range ctx.SymbolDB.Symbols {
		l.SymbolResolutions[id] = symbolResolution(ctx, sym)
	}
	for _, fl := range fileLayouts {
		if ol, ok := fl.(*ObjectLayout); ok {
			ol.SectionResolutions = sectionResolutions(ctx, ol.File)
		}
	}

	ctx.Layout = l
	return l, nil
}

func CreateSyntheticSections(ctx *Context) {
	push := func(chunk Chunker) Chunker {
		ctx.Chunks = append(ctx.Chunks, chunk)
		return chunk
	}

	ctx.Ehdr = push(NewOutputEhdr()).(*OutputEhdr)
	ctx.Phdr = push(NewOutputPhdr()).(*OutputPhdr)
	ctx.Shdr = push(NewOutputShdr()).(*OutputShdr)

	ctx.Got = push(NewGotSection()).(*GotSection)
	ctx.Plt = push(NewPltSection()).(*PltSection)
	ctx.RelaPlt = push(NewRelaSection(".rela.plt")).(*RelaSection)
	ctx.RelaDyn = NewRelaSection(".rela.dyn")

	if ctx.Arg.DynamicLinker != "" && ctx.Arg.OutputKind.IsExecutable() {
		ctx.Interp = push(NewInterpSection(ctx.Arg.DynamicLinker)).(*InterpSection)
	}

	if ctx.Arg.NeedsDynamic() {
		ctx.Dynsym = push(NewDynsymSection()).(*DynsymSection)
		ctx.Dynstr = push(NewDynstrSection()).(*DynstrSection)
		ctx.GnuHash = push(NewGnuHashSection()).(*GnuHashSection)
		push(ctx.RelaDyn)
		ctx.Dynamic = push(NewDynamicSection()).(*DynamicSection)
	}

	ctx.Shstrtab = push(NewShstrtabSection()).(*ShstrtabSection)
}

// isDroppableChunk reports whether chunk is an empty linker-generated
// table. Output sections are kept even when empty since symbols may
// still point into them.
func isDroppableChunk(ctx *Context, chunk Chunker) bool {
	if chunk.GetShdr().Size > 0 || chunk.Kind() != ChunkKindSynthetic {
		return false
	}
	switch chunk {
	case ctx.Got, ctx.Shstrtab:
		return false
	}
	if ctx.Dynamic != nil && chunk == Chunker(ctx.Dynamic) {
		return false
	}
	return true
}

func ensureAux(ctx *Context, sym *Symbol) {
	if sym.AuxIdx == -1 {
		sym.AuxIdx = int32(len(ctx.SymbolsAux))
		ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())
	}
}

// allocateSlots gives out GOT and PLT entries in ascending symbol id so
// the table layout does not depend on which worker scanned what.
func allocateSlots(ctx *Context, fileLayouts []FileLayout) {
	got, gotTp, tlsGd, plt, dynamic := roaring.New(), roaring.New(), roaring.New(), roaring.New(), roaring.New()
	tlsLd := false

	for _, fl := range fileLayouts {
		l, ok := fl.(*ObjectLayout)
		if !ok {
			continue
		}
		got.Or(l.Requests.Got)
		gotTp.Or(l.Requests.GotTp)
		tlsGd.Or(l.Requests.TlsGd)
		plt.Or(l.Requests.Plt)
		dynamic.Or(l.Requests.Dynamic)
		tlsLd = tlsLd || l.Requests.TlsLd
	}

	all := roaring.FastOr(got, gotTp, tlsGd, plt, dynamic)
	it := all.Iterator()
	for it.HasNext() {
		id := it.Next()
		sym := ctx.SymbolDB.Symbol(SymbolId(id))
		ensureAux(ctx, sym)

		if got.Contains(id) || plt.Contains(id) {
			ctx.Got.AddGotSymbol(ctx, sym)
		}
		if gotTp.Contains(id) {
			ctx.Got.AddGotTpSymbol(ctx, sym)
		}
		if tlsGd.Contains(id) {
			ctx.Got.AddTlsGdSymbol(ctx, sym)
		}
	}
	if tlsLd {
		ctx.Got.AddTlsLd(ctx)
	}

	it = plt.Iterator()
	for it.HasNext() {
		ctx.Plt.AddSymbol(ctx, ctx.SymbolDB.Symbol(SymbolId(it.Next())))
	}
}

// collectDynamicSymbols fills .dynsym: every import referenced by a
// loaded object, then, for shared objects, every exported definition.
func collectDynamicSymbols(ctx *Context, fileLayouts []FileLayout) {
	imports := roaring.New()
	for _, fl := range fileLayouts {
		if l, ok := fl.(*ObjectLayout); ok {
			imports.Or(l.Requests.Dynamic)
		}
	}

	it := imports.Iterator()
	for it.HasNext() {
		sym := ctx.SymbolDB.Symbol(SymbolId(it.Next()))
		ensureAux(ctx, sym)
		ctx.Dynsym.AddSymbol(ctx, sym)
	}
	ctx.Dynsym.Imports = int(imports.GetCardinality())

	var exports []*Symbol
	for _, sym := range ctx.SymbolDB.Symbols {
		if sym.IsExported && sym.GetDynsymIdx(ctx) == -1 {
			exports = append(exports, sym)
		}
	}

	ctx.GnuHash.SetExportCount(len(exports))
	nbuckets := ctx.GnuHash.NumBuckets
	sort.SliceStable(exports, func(i, j int) bool {
		return gnuHash(exports[i].Name)%nbuckets < gnuHash(exports[j].Name)%nbuckets
	})

	for _, sym := range exports {
		ensureAux(ctx, sym)
		ctx.Dynsym.AddSymbol(ctx, sym)
	}
}

func sizeRelocationSections(ctx *Context, fileLayouts []FileLayout) {
	gotDyn, gotPlt := ctx.Got.DynRelocCounts(ctx)
	base := gotDyn
	for _, fl := range fileLayouts {
		if l, ok := fl.(*ObjectLayout); ok {
			l.DynRelocBase = base
			base += l.DynRelocCount
		}
	}
	ctx.RelaDyn.SetCount(base)
	ctx.RelaPlt.SetCount(gotPlt)
}

func BinSections(ctx *Context) error {
	for _, file := range ctx.Objs {
		if !file.IsAlive {
			continue
		}
		for _, isec := range file.Sections {
			if isec == nil || !isec.IsAlive {
				continue
			}
			shdr := isec.Shdr()
			if shdr.AddrAlign > 1 && !utils.HasSingleBit(shdr.AddrAlign) {
				return &LayoutError{Msg: file.String() + ": section " + isec.Name() +
					" has an alignment that is not a power of two"}
			}
			isec.OutputSection = GetOutputSectionInstance(ctx, isec.Name(), uint64(shdr.Type), shdr.Flags)
		}
	}

	group := make([][]*InputSection, len(ctx.OutputSections))
	for _, file := range ctx.Objs {
		if !file.IsAlive {
			continue
		}
		for _, isec := range file.Sections {
			if isec == nil || !isec.IsAlive {
				continue
			}

			idx := isec.OutputSection.Idx
			group[idx] = append(group[idx], isec)
		}
	}

	for i, osec := range ctx.OutputSections {
		osec.Members = group[i]
	}
	return nil
}

func ComputeSectionSizes(ctx *Context) {
	for _, osec := range ctx.OutputSections {
		osec.ComputeSize()
	}
}

func ComputeMergedSectionSizes(ctx *Context) {
	for _, sec := range ctx.MergedSections {
		sec.AssignOffsets()
	}
}

func CollectOutputSections(ctx *Context) []Chunker {
	osecs := make([]Chunker, 0)
	for _, osec := range ctx.OutputSections {
		if len(osec.Members) != 0 {
			osecs = append(osecs, osec)
		}
	}
	for _, osec := range ctx.MergedSections {
		if osec.Shdr.Size > 0 {
			osecs = append(osecs, osec)
		}
	}

	sort.SliceStable(osecs, func(i, j int) bool {
		return osecs[i].GetName() < osecs[j].GetName()
	})
	return osecs
}

// SortOutputSections puts chunks in the canonical order: headers, code,
// read-only data, writable data, bss, TLS, dynamic-linking tables, GOT,
// PLT, then everything that is not loaded.
func SortOutputSections(ctx *Context) {
	synthetic := map[Chunker]int32{
		ctx.Got:     700,
		ctx.Plt:     800,
		ctx.RelaPlt: 640,
	}
	if ctx.Dynsym != nil {
		synthetic[ctx.Dynsym] = 600
		synthetic[ctx.Dynstr] = 610
		synthetic[ctx.GnuHash] = 620
		synthetic[ctx.RelaDyn] = 630
		synthetic[ctx.Dynamic] = 650
	}

	getRank := func(chunk Chunker) int32 {
		typ := chunk.GetShdr().Type
		flags := chunk.GetShdr().Flags

		switch {
		case chunk == ctx.Ehdr:
			return 0
		case chunk == ctx.Phdr:
			return 1
		case chunk == ctx.Shdr:
			return math.MaxInt32
		case ctx.Interp != nil && chunk == Chunker(ctx.Interp):
			return 2
		case flags&uint64(elf.SHF_ALLOC) == 0:
			return math.MaxInt32 - 1
		case typ == uint32(elf.SHT_NOTE):
			return 3
		}

		if rank, ok := synthetic[chunk]; ok {
			return rank
		}

		switch {
		case flags&uint64(elf.SHF_TLS) != 0:
			if typ == uint32(elf.SHT_NOBITS) {
				return 510
			}
			return 500
		case flags&uint64(elf.SHF_EXECINSTR) != 0:
			return 100
		case flags&uint64(elf.SHF_WRITE) == 0:
			return 200
		case typ == uint32(elf.SHT_NOBITS):
			return 400
		}
		return 300
	}

	sort.SliceStable(ctx.Chunks, func(i, j int) bool {
		return getRank(ctx.Chunks[i]) < getRank(ctx.Chunks[j])
	})
}

func assignSectionIndices(ctx *Context) {
	shndx := int64(1)
	for _, chunk := range ctx.Chunks {
		if chunk.Kind() == ChunkKindHeader {
			continue
		}
		chunk.SetShndx(shndx)
		chunk.GetShdr().Name = ctx.Shstrtab.Add(chunk.GetName())
		shndx++
	}
}

func doSetOsecOffsets(ctx *Context, base uint64) (uint64, error) {
	alignment := func(chunk Chunker) uint64 {
		return max(chunk.GetExtraAddrAlign(), chunk.GetShdr().AddrAlign, 1)
	}

	overflow := func(chunk Chunker) error {
		return &LayoutError{Msg: "address space overflow while placing " + chunk.GetName()}
	}

	addr := base
	for _, chunk := range ctx.Chunks {
		if !isAlloc(chunk) {
			continue
		}

		if isTbss(chunk) {
			chunk.GetShdr().Addr = addr
			continue
		}

		aligned, ok := utils.AlignToChecked(addr, alignment(chunk))
		if !ok {
			return 0, overflow(chunk)
		}
		addr = aligned
		chunk.GetShdr().Addr = addr

		if addr+chunk.GetShdr().Size < addr {
			return 0, overflow(chunk)
		}
		addr += chunk.GetShdr().Size
	}

	for i := 0; i < len(ctx.Chunks); {
		if isTbss(ctx.Chunks[i]) {
			addr := ctx.Chunks[i].GetShdr().Addr
			for ; i < len(ctx.Chunks) && isTbss(ctx.Chunks[i]); i++ {
				aligned, ok := utils.AlignToChecked(addr, alignment(ctx.Chunks[i]))
				if !ok || aligned+ctx.Chunks[i].GetShdr().Size < aligned {
					return 0, overflow(ctx.Chunks[i])
				}
				addr = aligned
				ctx.Chunks[i].GetShdr().Addr = addr
				addr += ctx.Chunks[i].GetShdr().Size
			}
		} else {
			i++
		}
	}

	fileoff := uint64(0)
	i := 0
	for i < len(ctx.Chunks) && isAlloc(ctx.Chunks[i]) {
		first := ctx.Chunks[i]
		utils.Assert(first.GetShdr().Type != uint32(elf.SHT_NOBITS))

		fileoff = utils.AlignTo(fileoff, alignment(first))

		for {
			ctx.Chunks[i].GetShdr().Offset = fileoff + ctx.Chunks[i].GetShdr().Addr - first.GetShdr().Addr
			i++

			if i >= len(ctx.Chunks) ||
				!isAlloc(ctx.Chunks[i]) ||
				ctx.Chunks[i].GetShdr().Type == uint32(elf.SHT_NOBITS) {
				break
			}

			if ctx.Chunks[i].GetShdr().Addr < first.GetShdr().Addr {
				break
			}

			gapSize := ctx.Chunks[i].GetShdr().Addr - ctx.Chunks[i-1].GetShdr().Addr - ctx.Chunks[i-1].GetShdr().Size

			if gapSize >= PageSize {
				break
			}
		}

		fileoff = ctx.Chunks[i-1].GetShdr().Offset + ctx.Chunks[i-1].GetShdr().Size

		for i < len(ctx.Chunks) &&
			isAlloc(ctx.Chunks[i]) &&
			ctx.Chunks[i].GetShdr().Type == uint32(elf.SHT_NOBITS) {
			ctx.Chunks[i].GetShdr().Offset = fileoff
			i++
		}
	}

	for ; i < len(ctx.Chunks); i++ {
		fileoff = utils.AlignTo(fileoff, ctx.Chunks[i].GetShdr().AddrAlign)
		ctx.Chunks[i].GetShdr().Offset = fileoff
		fileoff += ctx.Chunks[i].GetShdr().Size
	}
	return fileoff, nil
}

// SetOsecOffsets assigns addresses and file offsets. Program headers
// depend on the placement and the placement depends on how many program
// headers there are, so the two are recomputed until they agree.
func SetOsecOffsets(ctx *Context, base uint64) (uint64, error) {
	for {
		fileoff, err := doSetOsecOffsets(ctx, base)
		if err != nil {
			return 0, err
		}

		size := ctx.Phdr.Shdr.Size
		aligns := make([]uint64, len(ctx.Chunks))
		for i, chunk := range ctx.Chunks {
			aligns[i] = chunk.GetExtraAddrAlign()
		}

		ctx.Phdr.UpdateShdr(ctx)

		stable := size == ctx.Phdr.Shdr.Size
		for i, chunk := range ctx.Chunks {
			stable = stable && aligns[i] == chunk.GetExtraAddrAlign()
		}
		if stable {
			return fileoff, nil
		}
	}
}

func FixSyntheticSymbols(ctx *Context) {
	start := func(sym *Symbol, chunk Chunker) {
		if sym != nil && chunk != nil {
			sym.SetOutputSection(chunk)
			sym.Value = chunk.GetShdr().Addr
		}
	}

	stop := func(sym *Symbol, chunk Chunker) {
		if sym != nil && chunk != nil {
			sym.SetOutputSection(chunk)
			sym.Value = chunk.GetShdr().Addr + chunk.GetShdr().Size
		}
	}

	start(ctx.__EhdrStart, ctx.Ehdr)
	start(ctx.__ExecutableStart, ctx.Ehdr)
	start(ctx.__GlobalOffsetTable, ctx.Got)
	if ctx.Dynamic != nil {
		start(ctx.__Dynamic, ctx.Dynamic)
	}

	start(ctx.__RelaIpltStart, ctx.RelaPlt)
	if ctx.Arg.IsPositionIndependent() {
		start(ctx.__RelaIpltEnd, ctx.RelaPlt)
	} else {
		stop(ctx.__RelaIpltEnd, ctx.RelaPlt)
	}

	var lastExec, lastData, firstBss, last Chunker
	for _, chunk := range ctx.Chunks {
		if chunk.Kind() == ChunkKindHeader || !isAlloc(chunk) {
			continue
		}

		switch chunk.GetShdr().Type {
		case uint32(elf.SHT_INIT_ARRAY):
			start(ctx.__InitArrayStart, chunk)
			stop(ctx.__InitArrayEnd, chunk)
		case uint32(elf.SHT_PREINIT_ARRAY):
			start(ctx.__PreinitArrayStart, chunk)
			stop(ctx.__PreinitArrayEnd, chunk)
		case uint32(elf.SHT_FINI_ARRAY):
			start(ctx.__FiniArrayStart, chunk)
			stop(ctx.__FiniArrayEnd, chunk)
		}

		if isTbss(chunk) {
			continue
		}
		last = chunk
		if chunk.GetShdr().Flags&uint64(elf.SHF_EXECINSTR) != 0 {
			lastExec = chunk
		}
		if chunk.GetShdr().Type == uint32(elf.SHT_NOBITS) {
			if firstBss == nil {
				firstBss = chunk
			}
		} else {
			lastData = chunk
		}
	}

	for _, sym := range ctx.__Etext {
		stop(sym, lastExec)
	}
	if firstBss != nil {
		start(ctx.__BssStart, firstBss)
		for _, sym := range ctx.__Edata {
			start(sym, firstBss)
		}
	} else {
		stop(ctx.__BssStart, lastData)
		for _, sym := range ctx.__Edata {
			stop(sym, lastData)
		}
	}
	for _, sym := range ctx.__End {
		stop(sym, last)
	}
}

func isLiveSymbol(sym *Symbol) bool {
	if sym.File == nil || !sym.File.IsAlive || sym.IsDiscarded {
		return false
	}
	if sym.InputSection != nil && !sym.InputSection.IsAlive {
		return false
	}
	if sym.SectionFragment != nil && !sym.SectionFragment.IsAlive {
		return false
	}
	return true
}

func symbolResolution(ctx *Context, sym *Symbol) *Resolution {
	if !isLiveSymbol(sym) {
		return nil
	}

	res := &Resolution{Kind: ResolutionNormal}
	switch valueKindOf(ctx, sym) {
	case ValueDynamic:
		idx := sym.GetDynsymIdx(ctx)
		if idx < 0 {
			idx = 0
		}
		res.Value = Dynamic(uint32(idx))
	case ValueAbsolute:
		res.Value = Absolute(sym.GetAddr())
	default:
		res.Value = Address(sym.GetAddr())
	}

	if sym.GetGotIdx(ctx) != -1 {
		res.GotAddress = sym.GetGotAddr(ctx)
	}
	if sym.GetPltIdx(ctx) != -1 {
		res.PltAddress = sym.GetPltAddr(ctx)
	}

	if sym.IsIFunc() {
		res.Kind = ResolutionIFunc
		res.Value = Address(res.PltAddress)
	}

	if sym.IsTls() {
		res.Kind = ResolutionTls
		if sym.GetGotTpIdx(ctx) != -1 {
			res.Kind = ResolutionGotTlsOffset
			res.GotTpAddress = sym.GetGotTpAddr(ctx)
		}
		if sym.GetTlsGdIdx(ctx) != -1 {
			res.Kind = ResolutionGotTlsModule
			res.TlsGdAddress = sym.GetTlsGdAddr(ctx)
		}
	}
	return res
}

func sectionResolutions(ctx *Context, o *ObjectFile) []*Resolution {
	out := make([]*Resolution, len(o.Sections))
	for i, isec := range o.Sections {
		if isec == nil || !isec.IsAlive || !isec.IsAlloc() {
			continue
		}
		res := &Resolution{Kind: ResolutionNormal, Value: Address(isec.GetAddr())}
		if idx := o.SectionSyms[i]; idx >= 0 {
			if sym := o.Symbols[idx]; sym.GetGotIdx(ctx) != -1 {
				res.GotAddress = sym.GetGotAddr(ctx)
			}
		}
		out[i] = res
	}
	return out
}
