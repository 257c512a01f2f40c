package linker

import (
	"debug/elf"
	"fmt"
	"path/filepath"

	"github.com/ksco/xld/pkg/utils"
)

const versymHidden = 0x8000

// SharedFile is a shared object given on the command line. Only its
// dynamic symbol table is read; the code inside is never copied.
type SharedFile struct {
	InputFile
	Soname string

	definedGlobals []int64
}

func NewSharedFile(file *File, modifiers Modifiers) (*SharedFile, error) {
	f, err := NewInputFile(file)
	if err != nil {
		return nil, err
	}
	s := &SharedFile{InputFile: *f}
	s.IsDso = true
	s.Modifiers = modifiers
	s.IsAlive = !modifiers.AsNeeded
	s.owner = s
	return s, nil
}

func (s *SharedFile) parse() error {
	dynsym := s.FindSection(uint32(elf.SHT_DYNSYM))
	if dynsym == nil {
		s.Soname = filepath.Base(s.File.Name)
		return nil
	}
	if int(dynsym.Link) >= len(s.ElfSections) {
		return fmt.Errorf("%s: invalid dynamic string table index", s)
	}

	s.FirstGlobal = int64(dynsym.Info)
	s.FillUpElfSyms(dynsym)
	s.SymbolStrtab = s.GetBytesFromIdx(int64(dynsym.Link))
	if s.FirstGlobal > int64(len(s.ElfSyms)) {
		return fmt.Errorf("%s: invalid dynamic symbol table", s)
	}

	s.Soname = s.readSoname()
	if s.Soname == "" {
		s.Soname = filepath.Base(s.File.Name)
	}

	var versyms []uint16
	if sec := s.FindSection(uint32(elf.SHT_GNU_VERSYM)); sec != nil {
		bs := s.GetBytesFromShdr(sec)
		versyms = utils.ReadSlice[uint16](bs, len(bs)/2)
	}

	s.LocalSyms = make([]Symbol, s.FirstGlobal)
	s.Symbols = make([]*Symbol, len(s.ElfSyms))
	for i := range s.LocalSyms {
		s.LocalSyms[i] = *NewSymbol("")
		s.LocalSyms[i].File = &s.InputFile
		s.LocalSyms[i].SymIdx = int32(i)
		s.Symbols[i] = &s.LocalSyms[i]
	}

	s.readGlobalNames()

	for i := s.FirstGlobal; i < int64(len(s.ElfSyms)); i++ {
		esym := &s.ElfSyms[i]
		if esym.IsUndef() {
			continue
		}
		if esym.StVisibility() == uint8(elf.STV_HIDDEN) ||
			esym.StVisibility() == uint8(elf.STV_INTERNAL) {
			continue
		}
		if int(i) < len(versyms) && versyms[i]&versymHidden != 0 {
			continue
		}
		s.definedGlobals = append(s.definedGlobals, i)
	}
	return nil
}

func (s *SharedFile) readSoname() string {
	sec := s.FindSection(uint32(elf.SHT_DYNAMIC))
	if sec == nil || int(sec.Link) >= len(s.ElfSections) {
		return ""
	}
	strtab := s.GetBytesFromIdx(int64(sec.Link))
	bs := s.GetBytesFromShdr(sec)
	for _, dyn := range utils.ReadSlice[Dyn](bs, len(bs)/DynEntrySize) {
		if dyn.Tag == int64(elf.DT_NULL) {
			break
		}
		if dyn.Tag == int64(elf.DT_SONAME) {
			return getName(strtab, uint32(dyn.Val))
		}
	}
	return ""
}

func (s *SharedFile) ResolveSymbols() {
	for _, i := range s.definedGlobals {
		sym := s.Symbols[i]
		esym := &s.ElfSyms[i]

		if GetRank(&s.InputFile, esym, !s.IsAlive) < sym.GetRank() {
			sym.File = &s.InputFile
			sym.SetInputSection(nil)
			sym.Value = esym.Val
			sym.SymIdx = int32(i)
			sym.IsWeak = esym.IsWeak()
			sym.IsExported = false
		}
	}
}

// MarkLiveObjects does nothing: references from a shared object are
// satisfied at load time and never pull archive members in.
func (s *SharedFile) MarkLiveObjects(feeder func(InputFiler)) {}
