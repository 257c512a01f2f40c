package linker

import "debug/elf"

// GetRank orders competing definitions; lower wins. Within a class the
// file priority breaks ties, so the earliest file in link order wins.
// Shared objects always rank like lazy archive members so a definition
// in a regular object takes precedence.
func GetRank(file *InputFile, esym *Sym, isLazy bool) uint64 {
	if esym.IsCommon() {
		if isLazy {
			return (6 << 32) + uint64(file.Priority)
		}

		return (5 << 32) + uint64(file.Priority)
	}

	isWeak := esym.Bind() == uint8(elf.STB_WEAK)
	if isLazy || file.IsDso {
		if isWeak {
			return (4 << 32) + uint64(file.Priority)
		}
		return (3 << 32) + uint64(file.Priority)
	}
	if isWeak {
		return (2 << 32) + uint64(file.Priority)
	}
	return (1 << 32) + uint64(file.Priority)
}
