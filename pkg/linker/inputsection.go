package linker

import (
	"debug/elf"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/ksco/xld/pkg/utils"
)

type InputSection struct {
	File          *ObjectFile
	OutputSection *OutputSection
	Contents      []byte
	Offset        uint32
	Shndx         uint32
	RelsecIdx     uint32
	ShSize        uint32
	IsAlive       bool
	P2Align       uint8
	Rels          []Rela

	name string

	// Relaxed holds the indices of relocations whose instruction is
	// rewritten; Skipped holds those consumed by a neighbouring
	// relaxation.
	Relaxed *roaring.Bitmap
	Skipped *roaring.Bitmap
}

func NewInputSection(file *ObjectFile, name string, shndx int64) *InputSection {
	s := &InputSection{
		Offset:    math.MaxUint32,
		Shndx:     math.MaxUint32,
		RelsecIdx: math.MaxUint32,
		ShSize:    math.MaxUint32,
		IsAlive:   true,
		name:      name,
		Relaxed:   roaring.New(),
		Skipped:   roaring.New(),
	}
	s.File = file
	s.Shndx = uint32(shndx)

	shdr := s.Shdr()
	s.Contents = file.GetBytesFromShdr(shdr)

	toP2Align := func(alignment uint64) int64 {
		if alignment == 0 {
			return 0
		}
		return int64(utils.CountrZero[uint64](alignment))
	}

	s.ShSize = uint32(shdr.Size)
	s.P2Align = uint8(toP2Align(shdr.AddrAlign))
	return s
}

func (s *InputSection) Shdr() *Shdr {
	if s.Shndx < uint32(len(s.File.ElfSections)) {
		return &s.File.ElfSections[s.Shndx]
	}

	panic("unreachable")
}

func (s *InputSection) GetAddr() uint64 {
	return s.OutputSection.Shdr.Addr + uint64(s.Offset)
}

func (s *InputSection) Name() string {
	return s.name
}

func (s *InputSection) IsAlloc() bool {
	return s.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0
}

func (s *InputSection) GetRels() []Rela {
	if s.RelsecIdx == math.MaxUint32 || s.Rels != nil {
		return s.Rels
	}

	bs := s.File.GetBytesFromShdr(&s.File.InputFile.ElfSections[s.RelsecIdx])
	s.Rels = utils.ReadSlice[Rela](bs, len(bs)/RelaEntrySize)
	return s.Rels
}

// WriteTo copies the section into buf, which starts at the section's
// output offset, and applies its relocations.
func (s *InputSection) WriteTo(ctx *Context, buf []byte) error {
	if s.Shdr().Type == uint32(elf.SHT_NOBITS) || s.ShSize == 0 {
		return nil
	}

	copy(buf, s.Contents)

	if s.IsAlloc() {
		return s.ApplyRelocAlloc(ctx, buf)
	}
	return s.ApplyRelocNonAlloc(ctx, buf)
}
