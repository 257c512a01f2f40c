package linker

import (
	"debug/elf"

	"github.com/ksco/xld/pkg/utils"
)

type OutputSection struct {
	Chunk
	Members []*InputSection
	Idx     uint32
}

func NewOutputSection(name string, typ uint32, flags uint64, idx uint32) *OutputSection {
	o := &OutputSection{Chunk: NewChunk()}
	o.Name = name
	o.Shdr.Type = typ
	o.Shdr.Flags = flags
	o.Idx = idx
	return o
}

func GetOutputSectionInstance(
	ctx *Context, name string, typ uint64, flags uint64) *OutputSection {
	name = GetOutputName(name, flags)
	typ = CanonicalizeType(name, typ)
	flags = flags & ^uint64(elf.SHF_GROUP) & ^uint64(elf.SHF_COMPRESSED) &
		^uint64(elf.SHF_LINK_ORDER) & ^SHF_GNU_RETAIN & ^uint64(elf.SHF_MERGE) &
		^uint64(elf.SHF_STRINGS)

	if typ == uint64(elf.SHT_INIT_ARRAY) || typ == uint64(elf.SHT_FINI_ARRAY) ||
		typ == uint64(elf.SHT_PREINIT_ARRAY) {
		flags |= uint64(elf.SHF_WRITE)
	}

	find := func() *OutputSection {
		for _, os := range ctx.OutputSections {
			if name == os.Name && typ == uint64(os.Shdr.Type) &&
				flags == uint64(os.Shdr.Flags) {
				return os
			}
		}
		return nil
	}

	if os := find(); os != nil {
		return os
	}

	os := NewOutputSection(
		name, uint32(typ), flags, uint32(len(ctx.OutputSections)))
	ctx.OutputSections = append(ctx.OutputSections, os)
	return os
}

func (o *OutputSection) Kind() ChunkKind {
	return ChunkKindOutputSection
}

// ComputeSize places members one after another, honouring each one's
// alignment.
func (o *OutputSection) ComputeSize() {
	offset := uint64(0)
	p2align := uint8(0)

	for _, isec := range o.Members {
		offset = utils.AlignTo(offset, 1<<isec.P2Align)
		isec.Offset = uint32(offset)
		offset += uint64(isec.ShSize)
		if p2align < isec.P2Align {
			p2align = isec.P2Align
		}
	}

	o.Shdr.Size = offset
	o.Shdr.AddrAlign = 1 << p2align
}

// CopyBuf is a no-op: members are written by their owning file in
// WriteObjectSections so relocation errors surface in link order.
func (o *OutputSection) CopyBuf(ctx *Context) {}
