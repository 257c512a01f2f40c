package linker

import (
	"debug/elf"
	"encoding/binary"
)

type MachineType = int8

const (
	MachineTypeNone MachineType = iota
	MachineTypeX86_64
	MachineTypeOther
)

func GetMachineTypeFromContents(contents []byte) MachineType {
	switch GetFileType(contents) {
	case FileTypeObject, FileTypeDso:
		machine := elf.Machine(binary.LittleEndian.Uint16(contents[18:]))
		if machine == elf.EM_X86_64 && contents[elf.EI_CLASS] == byte(elf.ELFCLASS64) &&
			contents[elf.EI_DATA] == byte(elf.ELFDATA2LSB) {
			return MachineTypeX86_64
		}
		return MachineTypeOther
	}

	return MachineTypeNone
}

type MachineTypeStringer struct {
	MachineType
}

func (mts MachineTypeStringer) String() string {
	switch mts.MachineType {
	case MachineTypeX86_64:
		return "x86_64"
	case MachineTypeOther:
		return "foreign"
	}
	return "none"
}
