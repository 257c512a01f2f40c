package linker

import (
	"debug/elf"
	"strings"
)

var prefixes = []string{
	".text.", ".data.rel.ro.", ".data.", ".rodata.", ".bss.rel.ro.", ".bss.",
	".init_array.", ".fini_array.", ".preinit_array.", ".tbss.", ".tdata.",
	".gcc_except_table.", ".ctors.", ".dtors.", ".ldata.", ".lrodata.", ".lbss.",
}

var linkonceNames = map[string]string{
	".gnu.linkonce.t.":  ".text",
	".gnu.linkonce.r.":  ".rodata",
	".gnu.linkonce.d.":  ".data",
	".gnu.linkonce.b.":  ".bss",
	".gnu.linkonce.td.": ".tdata",
	".gnu.linkonce.tb.": ".tbss",
}

// GetOutputName maps an input section name to the output section that
// collects it, e.g. .text.main to .text.
func GetOutputName(name string, flags uint64) string {
	if (name == ".rodata" || strings.HasPrefix(name, ".rodata.")) &&
		flags&uint64(elf.SHF_MERGE) != 0 {
		if flags&uint64(elf.SHF_STRINGS) != 0 {
			return ".rodata.str"
		} else {
			return ".rodata.cst"
		}
	}

	for prefix, out := range linkonceNames {
		if strings.HasPrefix(name, prefix) {
			return out
		}
	}

	for _, prefix := range prefixes {
		stem := prefix[:len(prefix)-1]
		if name == stem || strings.HasPrefix(name, prefix) {
			return stem
		}
	}
	return name
}

func CanonicalizeType(name string, typ uint64) uint64 {
	if typ == uint64(elf.SHT_PROGBITS) {
		if name == ".init_array" || strings.HasPrefix(name, ".init_array.") {
			return uint64(elf.SHT_INIT_ARRAY)
		}
		if name == ".fini_array" || strings.HasPrefix(name, ".fini_array.") {
			return uint64(elf.SHT_FINI_ARRAY)
		}
		if name == ".preinit_array" || strings.HasPrefix(name, ".preinit_array.") {
			return uint64(elf.SHT_PREINIT_ARRAY)
		}
	}
	return typ
}
