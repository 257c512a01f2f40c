package linker

import (
	"debug/elf"
)

type RelocationKind uint8

const (
	RelocationKindAbsolute RelocationKind = iota
	RelocationKindRelative
	RelocationKindGot
	RelocationKindPltRelative
	RelocationKindGotRelative
	RelocationKindTlsGd
	RelocationKindTlsLd
	RelocationKindDtpOff
	RelocationKindGotTpOff
	RelocationKindTpOff

	// RelocationKindNone needs no fixup. Produced for R_X86_64_NONE and for
	// relocations eliminated by an earlier relaxation.
	RelocationKindNone
)

var relocationKindNames = [...]string{
	RelocationKindAbsolute:    "Absolute",
	RelocationKindRelative:    "Relative",
	RelocationKindGot:         "Got",
	RelocationKindPltRelative: "PltRelative",
	RelocationKindGotRelative: "GotRelative",
	RelocationKindTlsGd:       "TlsGd",
	RelocationKindTlsLd:       "TlsLd",
	RelocationKindDtpOff:      "DtpOff",
	RelocationKindGotTpOff:    "GotTpOff",
	RelocationKindTpOff:       "TpOff",
	RelocationKindNone:        "None",
}

func (k RelocationKind) String() string {
	if int(k) < len(relocationKindNames) {
		return relocationKindNames[k]
	}
	return "Unknown"
}

// RangeCheck says how a value is allowed to be truncated to the relocation
// width.
type RangeCheck uint8

const (
	RangeSigned RangeCheck = iota
	RangeUnsigned
	// RangeEither accepts values that fit as either signed or unsigned.
	RangeEither
)

type RelocationKindInfo struct {
	Kind     RelocationKind
	ByteSize int
	Range    RangeCheck
}

// ClassifyRelocation maps a raw x86-64 relocation type to its kind and
// patch width. Types outside the table are a hard error.
func ClassifyRelocation(rType uint32) (RelocationKindInfo, error) {
	info := func(kind RelocationKind, size int, rc RangeCheck) (RelocationKindInfo, error) {
		return RelocationKindInfo{Kind: kind, ByteSize: size, Range: rc}, nil
	}

	switch elf.R_X86_64(rType) {
	case elf.R_X86_64_64:
		return info(RelocationKindAbsolute, 8, RangeEither)
	case elf.R_X86_64_PC32:
		return info(RelocationKindRelative, 4, RangeSigned)
	case elf.R_X86_64_GOT32:
		return info(RelocationKindGot, 4, RangeSigned)
	case elf.R_X86_64_PLT32:
		return info(RelocationKindPltRelative, 4, RangeSigned)
	case elf.R_X86_64_GOTPCREL:
		return info(RelocationKindGotRelative, 4, RangeSigned)
	case elf.R_X86_64_32:
		return info(RelocationKindAbsolute, 4, RangeUnsigned)
	case elf.R_X86_64_32S:
		return info(RelocationKindAbsolute, 4, RangeSigned)
	case elf.R_X86_64_16:
		return info(RelocationKindAbsolute, 2, RangeEither)
	case elf.R_X86_64_PC16:
		return info(RelocationKindRelative, 2, RangeSigned)
	case elf.R_X86_64_8:
		return info(RelocationKindAbsolute, 1, RangeEither)
	case elf.R_X86_64_PC8:
		return info(RelocationKindRelative, 1, RangeSigned)
	case elf.R_X86_64_TLSGD:
		return info(RelocationKindTlsGd, 4, RangeSigned)
	case elf.R_X86_64_TLSLD:
		return info(RelocationKindTlsLd, 4, RangeSigned)
	case elf.R_X86_64_DTPOFF32:
		return info(RelocationKindDtpOff, 4, RangeSigned)
	case elf.R_X86_64_GOTTPOFF:
		return info(RelocationKindGotTpOff, 4, RangeSigned)
	case elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX:
		return info(RelocationKindGotRelative, 4, RangeSigned)
	case elf.R_X86_64_TPOFF32:
		return info(RelocationKindTpOff, 4, RangeSigned)
	case elf.R_X86_64_NONE:
		return info(RelocationKindNone, 0, RangeEither)
	}

	return RelocationKindInfo{}, &UnsupportedRelocationError{Type: rType}
}

// SupportedRelocationTypes lists every type ClassifyRelocation accepts.
func SupportedRelocationTypes() []elf.R_X86_64 {
	return []elf.R_X86_64{
		elf.R_X86_64_NONE, elf.R_X86_64_64, elf.R_X86_64_PC32,
		elf.R_X86_64_GOT32, elf.R_X86_64_PLT32, elf.R_X86_64_GOTPCREL,
		elf.R_X86_64_32, elf.R_X86_64_32S, elf.R_X86_64_16,
		elf.R_X86_64_PC16, elf.R_X86_64_8, elf.R_X86_64_PC8,
		elf.R_X86_64_TLSGD, elf.R_X86_64_TLSLD, elf.R_X86_64_DTPOFF32,
		elf.R_X86_64_GOTTPOFF, elf.R_X86_64_GOTPCRELX,
		elf.R_X86_64_REX_GOTPCRELX, elf.R_X86_64_TPOFF32,
	}
}

func relocName(rType uint32) string {
	return elf.R_X86_64(rType).String()
}
