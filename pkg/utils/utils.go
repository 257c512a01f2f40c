package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"strings"
)

type Uint interface {
	uint8 | uint16 | uint32 | uint64
}

func CountrZero[T Uint](n T) int {
	switch any(n).(type) {
	case uint8:
		return bits.TrailingZeros8(uint8(n))
	case uint16:
		return bits.TrailingZeros16(uint16(n))
	case uint32:
		return bits.TrailingZeros32(uint32(n))
	case uint64:
		return bits.TrailingZeros64(uint64(n))
	}

	Fatal("unreachable")
	return 0
}

func HasSingleBit(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func MustNo(err error) {
	if err != nil {
		Fatal(err)
	}
}

// Fatal reports an error at the program boundary and exits.
func Fatal(v any) {
	fmt.Fprintln(os.Stderr, "xld: "+"\033[0;1;31mfatal:\033[0m", fmt.Sprintf("%s", v))
	os.Exit(1)
}

func Assert(condition bool) {
	if !condition {
		panic("assert failed")
	}
}

func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) & ^(align - 1)
}

// AlignToChecked is AlignTo that reports wrap-around past 2^64.
func AlignToChecked(val, align uint64) (uint64, bool) {
	aligned := AlignTo(val, align)
	return aligned, aligned >= val
}

func AllZeros(bs []byte) bool {
	b := byte(0)
	for _, s := range bs {
		b |= s
	}
	return b == 0
}

func Read[T any](data []byte) (val T) {
	reader := bytes.NewReader(data)
	err := binary.Read(reader, binary.LittleEndian, &val)
	if err != nil {
		panic(err)
	}
	return
}

// ReadSlice decodes n consecutive records of type T from data.
func ReadSlice[T any](data []byte, n int) []T {
	vals := make([]T, n)
	if n == 0 {
		return vals
	}
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, vals)
	if err != nil {
		panic(err)
	}
	return vals
}

func Write[T any](data []byte, e T) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.LittleEndian, e)
	if err != nil {
		panic(err)
	}
	copy(data, buf.Bytes())
}

// FitsSigned reports whether val, read as a two's complement number,
// survives truncation to size bytes.
func FitsSigned(val uint64, size int) bool {
	if size >= 8 {
		return true
	}
	shift := uint(64 - size*8)
	return int64(val<<shift)>>shift == int64(val)
}

func FitsUnsigned(val uint64, size int) bool {
	if size >= 8 {
		return true
	}
	return val>>(uint(size)*8) == 0
}

func RemoveIf[T any](elems []T, condition func(T) bool) []T {
	i := 0

	for _, elem := range elems {
		if condition(elem) {
			continue
		}
		elems[i] = elem
		i++
	}
	return elems[:i]
}

func RemovePrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		s = strings.TrimPrefix(s, prefix)
		return s, true
	}
	return s, false
}
