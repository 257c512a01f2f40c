package linker

import (
	"debug/elf"

	"github.com/ksco/xld/pkg/utils"
)

type OutputEhdr struct {
	Chunk
}

func NewOutputEhdr() *OutputEhdr {
	return &OutputEhdr{
		Chunk: Chunk{
			Shdr: Shdr{
				Flags:     uint64(elf.SHF_ALLOC),
				Size:      FileHeaderSize,
				AddrAlign: 8,
			},
		},
	}
}

func (o *OutputEhdr) Kind() ChunkKind {
	return ChunkKindHeader
}

func GetEntryAddr(ctx *Context) uint64 {
	if sym := definedSymbol(ctx, ctx.Arg.Entry); sym != nil {
		return sym.GetAddr()
	}
	return 0
}

func (o *OutputEhdr) CopyBuf(ctx *Context) {
	ehdr := Ehdr{}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	ehdr.Ident[elf.EI_OSABI] = uint8(elf.ELFOSABI_NONE)
	ehdr.Type = uint16(elf.ET_EXEC)
	if ctx.Arg.IsPositionIndependent() {
		ehdr.Type = uint16(elf.ET_DYN)
	}
	ehdr.Machine = uint16(elf.EM_X86_64)
	ehdr.Version = uint32(elf.EV_CURRENT)
	ehdr.Entry = GetEntryAddr(ctx)
	ehdr.PhOff = ctx.Phdr.Shdr.Offset
	ehdr.ShOff = ctx.Shdr.Shdr.Offset
	ehdr.EhSize = FileHeaderSize
	ehdr.PhEntSize = ProgramHeaderSize
	ehdr.PhNum = uint16(ctx.Phdr.Shdr.Size / ProgramHeaderSize)
	ehdr.ShEntSize = SectionHeaderSize
	ehdr.ShNum = uint16(ctx.Shdr.Shdr.Size / SectionHeaderSize)
	ehdr.ShStrndx = uint16(ctx.Shstrtab.Shndx)

	utils.Write[Ehdr](ctx.Buf[o.Shdr.Offset:], ehdr)
}
