package linker

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/xld/pkg/utils"
)

// InputFiler is implemented by every kind of link input.
type InputFiler interface {
	Base() *InputFile
	ResolveSymbols()
	MarkLiveObjects(feeder func(InputFiler))
}

type InputFile struct {
	File         *File
	Symbols      []*Symbol
	ElfSections  []Shdr
	FirstGlobal  int64
	ShStrtab     []byte
	SymbolStrtab []byte

	ElfSyms   []Sym
	IsAlive   bool
	IsDso     bool
	Priority  uint32
	Index     int
	Modifiers Modifiers

	LocalSyms []Symbol
	FragSyms  []Symbol

	// GlobalNames[i] is the name of ElfSyms[FirstGlobal+i].
	GlobalNames []string

	owner InputFiler
}

func NewInputFile(file *File) (*InputFile, error) {
	f := &InputFile{File: file}
	if len(file.Contents) < FileHeaderSize {
		return nil, fmt.Errorf("%s: file too small", file.DisplayName())
	}
	if !CheckMagic(file.Contents) {
		return nil, fmt.Errorf("%s: not an ELF file", file.DisplayName())
	}

	ehdr := utils.Read[Ehdr](file.Contents)
	if ehdr.ShOff == 0 {
		return f, nil
	}
	if ehdr.ShOff+SectionHeaderSize > uint64(len(file.Contents)) {
		return nil, fmt.Errorf("%s: section header table is out of range", file.DisplayName())
	}

	contents := file.Contents[ehdr.ShOff:]
	shdr := utils.Read[Shdr](contents)

	numSections := int64(ehdr.ShNum)
	if numSections == 0 {
		numSections = int64(shdr.Size)
	}
	if uint64(numSections)*SectionHeaderSize > uint64(len(contents)) {
		return nil, fmt.Errorf("%s: section header table is truncated", file.DisplayName())
	}

	f.ElfSections = utils.ReadSlice[Shdr](contents, int(numSections))
	for i := range f.ElfSections {
		s := &f.ElfSections[i]
		if s.Type == uint32(elf.SHT_NOBITS) {
			continue
		}
		if s.Offset+s.Size > uint64(len(file.Contents)) || s.Offset+s.Size < s.Offset {
			return nil, fmt.Errorf("%s: section header is out of range: %d",
				file.DisplayName(), s.Offset)
		}
	}

	shstrtabIdx := int64(ehdr.ShStrndx)
	if ehdr.ShStrndx == uint16(elf.SHN_XINDEX) {
		shstrtabIdx = int64(shdr.Link)
	}
	if shstrtabIdx >= int64(len(f.ElfSections)) {
		return nil, fmt.Errorf("%s: invalid section name table index", file.DisplayName())
	}

	f.ShStrtab = f.GetBytesFromIdx(shstrtabIdx)
	return f, nil
}

func (f *InputFile) Base() *InputFile {
	return f
}

func (f *InputFile) Owner() InputFiler {
	return f.owner
}

func (f *InputFile) GetBytesFromShdr(s *Shdr) []byte {
	if s.Type == uint32(elf.SHT_NOBITS) {
		return nil
	}
	return f.File.Contents[s.Offset : s.Offset+s.Size]
}

func (f *InputFile) GetBytesFromIdx(idx int64) []byte {
	utils.Assert(idx < int64(len(f.ElfSections)))
	return f.GetBytesFromShdr(&f.ElfSections[idx])
}

func (f *InputFile) FillUpElfSyms(s *Shdr) {
	bs := f.GetBytesFromShdr(s)
	f.ElfSyms = utils.ReadSlice[Sym](bs, len(bs)/SymtabEntrySize)
}

func (f *InputFile) FindSection(ty uint32) *Shdr {
	for i := 0; i < len(f.ElfSections); i++ {
		sec := &f.ElfSections[i]
		if sec.Type == ty {
			return sec
		}
	}
	return nil
}

func (f *InputFile) readGlobalNames() {
	f.GlobalNames = make([]string, 0, len(f.ElfSyms)-int(f.FirstGlobal))
	for i := f.FirstGlobal; i < int64(len(f.ElfSyms)); i++ {
		f.GlobalNames = append(f.GlobalNames, getName(f.SymbolStrtab, f.ElfSyms[i].Name))
	}
}

func (f *InputFile) SwapIsAlive(isAlive bool) bool {
	old := f.IsAlive
	f.IsAlive = isAlive
	return old
}

func (f *InputFile) GetGlobalSyms() []*Symbol {
	return f.Symbols[f.FirstGlobal:]
}

func (f *InputFile) ClearSymbols() {
	for _, sym := range f.GetGlobalSyms() {
		if sym.File == f {
			sym.Clear()
		}
	}
}

func (f *InputFile) String() string {
	return f.File.DisplayName()
}
