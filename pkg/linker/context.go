package linker

import (
	"github.com/ksco/xld/pkg/utils"
)

type Context struct {
	Arg *ContextArg

	Libraries *LibraryResolver

	SymbolDB   *SymbolDatabase
	SymbolsAux []SymbolAux

	Ehdr     *OutputEhdr
	Shdr     *OutputShdr
	Phdr     *OutputPhdr
	Got      *GotSection
	Plt      *PltSection
	Interp   *InterpSection
	Dynsym   *DynsymSection
	Dynstr   *DynstrSection
	GnuHash  *GnuHashSection
	RelaDyn  *RelaSection
	RelaPlt  *RelaSection
	Dynamic  *DynamicSection
	Shstrtab *ShstrtabSection

	Buf []byte

	FilePriority uint32
	Visited      utils.MapSet[string]

	// Mapped holds every file opened for the link so it can be unmapped.
	Mapped []*File

	// Files is every input in link order, including the pseudo-files.
	Files []InputFiler
	Objs  []*ObjectFile
	Dsos  []*SharedFile

	InternalObj *ObjectFile
	EpilogueObj *ObjectFile

	Chunks []Chunker

	MergedSections []*MergedSection
	OutputSections []*OutputSection

	FileLayouts []FileLayout
	Layout      *Layout

	TpAddr   uint64
	TlsStart uint64
	TlsEnd   uint64

	__InitArrayStart    *Symbol
	__InitArrayEnd      *Symbol
	__FiniArrayStart    *Symbol
	__FiniArrayEnd      *Symbol
	__PreinitArrayStart *Symbol
	__PreinitArrayEnd   *Symbol
	__RelaIpltStart     *Symbol
	__RelaIpltEnd       *Symbol
	__EhdrStart         *Symbol
	__ExecutableStart   *Symbol
	__GlobalOffsetTable *Symbol
	__Dynamic           *Symbol
	__BssStart          *Symbol
	__Etext             []*Symbol
	__Edata             []*Symbol
	__End               []*Symbol
}

func NewContext(arg *ContextArg) *Context {
	return &Context{
		Arg:          arg,
		Libraries:    NewLibraryResolver(arg.LibraryPaths),
		Visited:      utils.NewMapSet[string](),
		FilePriority: 2,
	}
}

// Close unmaps every input file.
func (ctx *Context) Close() error {
	var first error
	for _, f := range ctx.Mapped {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	ctx.Mapped = nil
	return first
}
