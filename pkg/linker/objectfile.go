package linker

import (
	"bytes"
	"debug/elf"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/ksco/xld/pkg/logger"
	"github.com/ksco/xld/pkg/utils"
)

type ObjectFile struct {
	InputFile
	Sections          []*InputSection
	MergeableSections []*MergeableSection

	SymtabSec      *Shdr
	SymtabShndxSec []uint32

	// SectionSyms maps a section index to its STT_SECTION symbol, or -1.
	SectionSyms []int32

	// definedGlobals lists the global symbol indices that this file may
	// offer to the symbol database.
	definedGlobals []int64

	// LiveSections holds the indices of allocated sections reachable from
	// a GC root.
	LiveSections *roaring.Bitmap

	// IsPseudo is set for the linker-created internal and epilogue files.
	IsPseudo bool
}

func NewObjectFile(file *File, inLib bool) (*ObjectFile, error) {
	f, err := NewInputFile(file)
	if err != nil {
		return nil, err
	}
	o := &ObjectFile{InputFile: *f}
	o.IsAlive = !inLib
	o.owner = o
	return o, nil
}

// parse decodes everything that can be decided from the file alone. It
// runs concurrently with other files and must not touch shared state.
func (o *ObjectFile) parse(arg *ContextArg) error {
	o.SymtabSec = o.FindSection(uint32(elf.SHT_SYMTAB))
	if o.SymtabSec != nil {
		if int(o.SymtabSec.Link) >= len(o.ElfSections) {
			return fmt.Errorf("%s: invalid symbol string table index", o)
		}
		o.FirstGlobal = int64(o.SymtabSec.Info)

		o.InputFile.FillUpElfSyms(o.SymtabSec)
		o.InputFile.SymbolStrtab = o.InputFile.
			GetBytesFromIdx(int64(o.SymtabSec.Link))
		if o.FirstGlobal > int64(len(o.ElfSyms)) || o.FirstGlobal == 0 && len(o.ElfSyms) > 0 {
			return fmt.Errorf("%s: invalid symbol table", o)
		}
	}

	if err := o.initializeSections(arg); err != nil {
		return err
	}
	if err := o.initializeSymbols(); err != nil {
		return err
	}
	o.sortRelocations()
	if arg.MergeStrings {
		if err := o.initializeMergeableSections(); err != nil {
			return err
		}
	}
	o.skipEhframeSections()
	return nil
}

func isDebugSection(name string) bool {
	return strings.HasPrefix(name, ".debug") || strings.HasPrefix(name, ".zdebug")
}

func (o *ObjectFile) initializeSections(arg *ContextArg) error {
	o.Sections = make([]*InputSection, len(o.InputFile.ElfSections))
	for i := 0; i < len(o.ElfSections); i++ {
		shdr := &o.ElfSections[i]
		if (shdr.Flags&uint64(SHF_EXCLUDE) != 0) &&
			(shdr.Flags&uint64(elf.SHF_ALLOC) == 0) &&
			(shdr.Type != SHT_LLVM_ADDRSIG) {
			continue
		}

		switch elf.SectionType(shdr.Type) {
		case elf.SHT_GROUP:
			// Ignore
		case elf.SHT_SYMTAB_SHNDX:
			o.FillUpSymtabShndxSec(shdr)
		case elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_REL, elf.SHT_RELA,
			elf.SHT_NULL:
			break
		default:
			if shdr.Type == SHT_LLVM_ADDRSIG {
				continue
			}

			name := getName(o.InputFile.ShStrtab, shdr.Name)

			if name == ".note.GNU-stack" {
				continue
			}
			if strings.HasPrefix(name, ".gnu.warning.") {
				continue
			}

			if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
				if arg.StripAll || arg.StripDebug && isDebugSection(name) {
					continue
				}
				if shdr.Flags&uint64(elf.SHF_COMPRESSED) != 0 {
					logger.Debugw("dropping compressed section", "file", o.String(), "section", name)
					continue
				}
			}

			o.Sections[i] = NewInputSection(o, name, int64(i))
		}
	}

	for i := 0; i < len(o.InputFile.ElfSections); i++ {
		shdr := &o.InputFile.ElfSections[i]
		if shdr.Type == uint32(elf.SHT_REL) {
			return configErrorf("%s: SHT_REL relocation sections are not supported", o)
		}
		if shdr.Type != uint32(elf.SHT_RELA) {
			continue
		}

		if shdr.Info >= uint32(len(o.Sections)) {
			return fmt.Errorf("%s: invalid relocated section index", o)
		}

		if target := o.Sections[shdr.Info]; target != nil {
			utils.Assert(target.RelsecIdx == math.MaxUint32)
			target.RelsecIdx = uint32(i)
		}
	}
	return nil
}

func (o *ObjectFile) initializeSymbols() error {
	o.SectionSyms = make([]int32, len(o.ElfSections))
	for i := range o.SectionSyms {
		o.SectionSyms[i] = -1
	}

	if o.SymtabSec == nil {
		return nil
	}

	o.LocalSyms = make([]Symbol, o.FirstGlobal)
	for i := 0; i < len(o.LocalSyms); i++ {
		o.LocalSyms[i] = *NewSymbol("")
	}
	o.LocalSyms[0].File = &o.InputFile
	o.LocalSyms[0].SymIdx = 0

	for i := int64(1); i < o.FirstGlobal; i++ {
		esym := &o.ElfSyms[i]
		if esym.IsCommon() {
			return fmt.Errorf("%s: common local symbol", o)
		}

		shndx, err := o.shndxOf(esym, i)
		if err != nil {
			return err
		}

		name := getName(o.SymbolStrtab, esym.Name)
		if esym.Type() == uint8(elf.STT_SECTION) {
			if sec := o.Sections[shndx]; sec != nil && name == "" {
				name = sec.Name()
			}
			if shndx < int64(len(o.SectionSyms)) && o.SectionSyms[shndx] == -1 {
				o.SectionSyms[shndx] = int32(i)
			}
		}

		sym := &o.LocalSyms[i]
		sym.Name = name
		sym.File = &o.InputFile
		sym.Value = esym.Val
		sym.SymIdx = int32(i)
		sym.Visibility = uint8(elf.STV_HIDDEN)

		if !esym.IsAbs() && !esym.IsUndef() {
			if sec := o.Sections[shndx]; sec != nil {
				sym.SetInputSection(sec)
			} else {
				sym.IsDiscarded = true
			}
		}
	}

	o.Symbols = make([]*Symbol, len(o.ElfSyms))

	for i := int64(0); i < o.FirstGlobal; i++ {
		o.Symbols[i] = &o.LocalSyms[i]
	}

	o.readGlobalNames()

	for i := o.FirstGlobal; i < int64(len(o.ElfSyms)); i++ {
		esym := &o.ElfSyms[i]
		if esym.IsCommon() {
			return configErrorf("%s: common symbol `%s` is not supported; recompile with -fno-common",
				o, o.GlobalNames[i-o.FirstGlobal])
		}
		if esym.IsUndef() {
			continue
		}
		if !esym.IsAbs() {
			shndx, err := o.shndxOf(esym, i)
			if err != nil {
				return err
			}
			if o.Sections[shndx] == nil {
				continue
			}
		}
		o.definedGlobals = append(o.definedGlobals, i)
	}
	return nil
}

func (o *ObjectFile) sortRelocations() {
	for i := 1; i < len(o.Sections); i++ {
		isec := o.Sections[i]
		if isec == nil || !isec.IsAlive {
			continue
		}

		rels := isec.GetRels()
		sort.SliceStable(rels, func(i, j int) bool {
			return rels[i].Offset < rels[j].Offset
		})
	}
}

func findNull(data []byte, entSize int) int {
	if entSize == 1 {
		return bytes.Index(data, []byte{0})
	}

	for i := 0; i <= len(data)-entSize; i += entSize {
		bs := data[i : i+entSize]
		if utils.AllZeros(bs) {
			return i
		}
	}
	return -1
}

func splitSection(isec *InputSection) (*MergeableSection, error) {
	rec := &MergeableSection{Section: isec}
	shdr := isec.Shdr()
	rec.P2Align = isec.P2Align

	data := isec.Contents
	offset := uint64(0)
	if shdr.Flags&uint64(elf.SHF_STRINGS) != 0 {
		for len(data) > 0 {
			end := findNull(data, int(shdr.EntSize))
			if end == -1 {
				return nil, fmt.Errorf("%s: %s: string is not null terminated",
					isec.File, isec.Name())
			}

			substr := data[:uint64(end)+shdr.EntSize]
			data = data[uint64(end)+shdr.EntSize:]
			rec.Strs = append(rec.Strs, string(substr))
			rec.FragOffsets = append(rec.FragOffsets, uint32(offset))
			offset += uint64(end) + shdr.EntSize
		}
	} else {
		if uint64(len(data))%shdr.EntSize != 0 {
			return nil, fmt.Errorf("%s: %s: section size is not multiple of entsize",
				isec.File, isec.Name())
		}
		for len(data) > 0 {
			substr := data[:shdr.EntSize]
			data = data[shdr.EntSize:]
			rec.Strs = append(rec.Strs, string(substr))
			rec.FragOffsets = append(rec.FragOffsets, uint32(offset))
			offset += shdr.EntSize
		}
	}

	return rec, nil
}

func (o *ObjectFile) initializeMergeableSections() error {
	o.MergeableSections = make([]*MergeableSection, len(o.Sections))
	for i := 0; i < len(o.Sections); i++ {
		isec := o.Sections[i]
		if isec != nil && isec.IsAlive && isec.Shdr().Flags&uint64(elf.SHF_MERGE) != 0 &&
			isec.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0 &&
			isec.ShSize > 0 && isec.Shdr().EntSize > 0 &&
			isec.RelsecIdx == math.MaxUint32 {
			m, err := splitSection(isec)
			if err != nil {
				return err
			}
			o.MergeableSections[i] = m
			isec.IsAlive = false
		}
	}
	return nil
}

func (o *ObjectFile) skipEhframeSections() {
	for i := 0; i < len(o.Sections); i++ {
		isec := o.Sections[i]
		if isec != nil && isec.IsAlive && isec.Name() == ".eh_frame" {
			isec.IsAlive = false
		}
	}
}

func (o *ObjectFile) FillUpSymtabShndxSec(s *Shdr) {
	bs := o.InputFile.GetBytesFromShdr(s)
	o.SymtabShndxSec = utils.ReadSlice[uint32](bs, len(bs)/4)
}

func (o *ObjectFile) shndxOf(esym *Sym, idx int64) (int64, error) {
	shndx := o.GetShndx(esym, idx)
	if shndx < 0 || shndx >= int64(len(o.Sections)) {
		if esym.IsAbs() || esym.IsUndef() || esym.IsCommon() {
			return shndx, nil
		}
		return 0, fmt.Errorf("%s: symbol %d has invalid section index %d", o, idx, shndx)
	}
	return shndx, nil
}

func (o *ObjectFile) GetSection(esym *Sym, idx int64) *InputSection {
	shndx := o.GetShndx(esym, idx)
	if shndx < 0 || shndx >= int64(len(o.Sections)) {
		return nil
	}
	return o.Sections[shndx]
}

func (o *ObjectFile) GetShndx(esym *Sym, idx int64) int64 {
	utils.Assert(idx >= 0 && idx < int64(len(o.ElfSyms)))
	if esym.Shndx == uint16(elf.SHN_XINDEX) {
		if idx >= int64(len(o.SymtabShndxSec)) {
			return -1
		}
		return int64(o.SymtabShndxSec[idx])
	}
	return int64(esym.Shndx)
}

func (o *ObjectFile) ResolveSymbols() {
	for _, i := range o.definedGlobals {
		sym := o.Symbols[i]
		esym := &o.ElfSyms[i]

		var isec *InputSection
		if !esym.IsAbs() {
			isec = o.GetSection(esym, i)
		}

		if GetRank(&o.InputFile, esym, !o.IsAlive) < sym.GetRank() {
			sym.File = &o.InputFile
			sym.SetInputSection(isec)
			sym.Value = esym.Val
			sym.SymIdx = int32(i)
			sym.IsWeak = esym.IsWeak()
			sym.IsExported = false
		}
	}
}

func (o *ObjectFile) MarkLiveObjects(feeder func(InputFiler)) {
	utils.Assert(o.IsAlive)

	for i := o.FirstGlobal; i < int64(len(o.ElfSyms)); i++ {
		esym := &o.ElfSyms[i]
		sym := o.Symbols[i]

		o.MergeVisibility(sym, esym.StVisibility())

		if esym.IsWeak() {
			continue
		}

		if sym.File == nil {
			continue
		}

		if esym.IsUndef() && !sym.File.SwapIsAlive(true) {
			feeder(sym.File.Owner())
		}
	}
}

func (o *ObjectFile) MergeVisibility(sym *Symbol, visibility uint8) {
	if visibility == uint8(elf.STV_INTERNAL) {
		visibility = uint8(elf.STV_HIDDEN)
	}

	priority := func(visibility uint8) int {
		switch visibility {
		case uint8(elf.STV_HIDDEN):
			return 1
		case uint8(elf.STV_PROTECTED):
			return 2
		}
		return 3
	}

	if priority(sym.Visibility) > priority(visibility) {
		sym.Visibility = visibility
	}
}

// RegisterSectionPieces interns every mergeable string into its merged
// output section and retargets symbols and relocations at fragments.
// Interning touches shared maps, so files are processed one at a time.
func (o *ObjectFile) RegisterSectionPieces(ctx *Context) error {
	for _, m := range o.MergeableSections {
		if m == nil {
			continue
		}
		shdr := m.Section.Shdr()
		m.Parent = GetMergedSectionInstance(ctx, m.Section.Name(), shdr.Type, shdr.Flags)
		m.Fragments = make([]*SectionFragment, 0, len(m.Strs))
		for i := 0; i < len(m.Strs); i++ {
			m.Fragments = append(m.Fragments, m.Parent.Insert(m.Strs[i], uint32(m.P2Align)))
		}
	}

	if len(o.MergeableSections) == 0 {
		return nil
	}

	for i := int64(1); i < int64(len(o.ElfSyms)); i++ {
		sym := o.Symbols[i]
		esym := &o.ElfSyms[i]

		if esym.IsAbs() || esym.IsCommon() || esym.IsUndef() {
			continue
		}
		if sym.File != &o.InputFile || sym.SymIdx != int32(i) {
			continue
		}

		shndx := o.GetShndx(esym, i)
		if shndx < 0 || shndx >= int64(len(o.MergeableSections)) {
			continue
		}
		m := o.MergeableSections[shndx]
		if m == nil {
			continue
		}

		frag, fragOffset := m.GetFragment(uint32(esym.Val))
		if frag == nil {
			return fmt.Errorf("%s: bad symbol value in %s", o, m.Section.Name())
		}
		sym.SetSectionFragment(frag)
		sym.Value = uint64(fragOffset)
	}

	mergeableTarget := func(r *Rela) *MergeableSection {
		if int(r.Sym) >= len(o.ElfSyms) {
			return nil
		}
		esym := &o.ElfSyms[r.Sym]
		if esym.Type() != uint8(elf.STT_SECTION) {
			return nil
		}
		shndx := o.GetShndx(esym, int64(r.Sym))
		if shndx < 0 || shndx >= int64(len(o.MergeableSections)) {
			return nil
		}
		return o.MergeableSections[shndx]
	}

	nFragSyms := 0
	for _, isec := range o.Sections {
		if isec == nil || !isec.IsAlive {
			continue
		}
		for i := range isec.GetRels() {
			if mergeableTarget(&isec.GetRels()[i]) != nil {
				nFragSyms++
			}
		}
	}

	o.FragSyms = make([]Symbol, nFragSyms)

	idx := 0
	for _, isec := range o.Sections {
		if isec == nil || !isec.IsAlive {
			continue
		}

		for i := 0; i < len(isec.GetRels()); i++ {
			r := &isec.GetRels()[i]
			m := mergeableTarget(r)
			if m == nil {
				continue
			}

			esym := &o.ElfSyms[r.Sym]
			frag, fragOffset := m.GetFragment(uint32(esym.Val) + uint32(r.Addend))
			if frag == nil {
				return fmt.Errorf("%s: %s: bad relocation into %s",
					o, isec.Name(), m.Section.Name())
			}

			sym := &o.FragSyms[idx]
			*sym = *NewSymbol("<fragment>")
			sym.File = &o.InputFile
			sym.SymIdx = int32(r.Sym)
			sym.Visibility = uint8(elf.STV_HIDDEN)
			sym.SetSectionFragment(frag)
			sym.Value = uint64(fragOffset) - uint64(r.Addend)
			ctx.SymbolDB.add(sym)

			r.Sym = uint32(len(o.ElfSyms)) + uint32(idx)
			idx++
		}
	}

	utils.Assert(idx == len(o.FragSyms))

	for i := 0; i < len(o.FragSyms); i++ {
		o.Symbols = append(o.Symbols, &o.FragSyms[i])
	}
	return nil
}

// ClaimUnresolvedSymbols binds undefined references nobody defines. Weak
// ones become zero; when building a shared object strong ones are left
// for the dynamic linker.
func (o *ObjectFile) ClaimUnresolvedSymbols(ctx *Context) {
	if !o.IsAlive {
		return
	}

	for i := o.FirstGlobal; i < int64(len(o.ElfSyms)); i++ {
		esym := &o.ElfSyms[i]
		if !esym.IsUndef() {
			continue
		}

		sym := o.Symbols[i]
		if sym.File != nil && (!sym.ElfSym().IsUndef() || sym.File.Priority <= o.Priority) {
			continue
		}

		if esym.IsUndefWeak() || ctx.Arg.OutputKind == OutputKindSharedObject {
			sym.File = &o.InputFile
			sym.InputSection = nil
			sym.OutputSection = nil
			sym.SectionFragment = nil
			sym.Value = 0
			sym.SymIdx = int32(i)
			sym.IsWeak = esym.IsUndefWeak()
			sym.IsExported = false
		}
	}
}

// ComputeImportExport marks the symbols a shared object hands out.
func (o *ObjectFile) ComputeImportExport(ctx *Context) {
	if ctx.Arg.OutputKind != OutputKindSharedObject {
		return
	}
	for _, sym := range o.GetGlobalSyms() {
		if sym.File != &o.InputFile || sym.Visibility == uint8(elf.STV_HIDDEN) {
			continue
		}
		if sym.ElfSym().IsUndef() {
			sym.IsImported = true
			continue
		}
		if sym.InputSection != nil && !sym.InputSection.IsAlive {
			continue
		}
		sym.IsExported = true
	}
}
