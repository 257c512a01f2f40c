package linker

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const arHdrSize = 60

type ArHdr struct {
	Name [16]byte
	Date [12]byte
	Uid  [6]byte
	Gid  [6]byte
	Mode [8]byte
	Size [10]byte
	Fmag [2]byte
}

func (a *ArHdr) StartsWith(s string) bool {
	return string(a.Name[:len(s)]) == s
}

func (a *ArHdr) IsStrtab() bool {
	return a.StartsWith("// ")
}

func (a *ArHdr) IsSymtab() bool {
	return a.StartsWith("/ ") || a.StartsWith("/SYM64/ ")
}

func (a *ArHdr) ReadName(strTab []byte, body []byte) (name string, skip int, err error) {
	// BSD-style long filename
	if a.StartsWith("#1/") {
		nameLen, err := strconv.Atoi(strings.TrimSpace(string(a.Name[3:])))
		if err != nil || nameLen > len(body) {
			return "", 0, fmt.Errorf("bad BSD member name %q", a.Name[:])
		}
		raw := body[:nameLen]
		if end := bytes.IndexByte(raw, 0); end != -1 {
			raw = raw[:end]
		}
		return string(raw), nameLen, nil
	}

	// SysV-style long filename
	if a.StartsWith("/") {
		start, err := strconv.Atoi(strings.TrimSpace(string(a.Name[1:])))
		if err != nil || start >= len(strTab) {
			return "", 0, fmt.Errorf("bad long member name %q", a.Name[:])
		}
		end := bytes.Index(strTab[start:], []byte("/\n"))
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated long member name at %d", start)
		}
		return string(strTab[start : start+end]), 0, nil
	}

	// Short filename
	if end := bytes.IndexByte(a.Name[:], '/'); end != -1 {
		return string(a.Name[:end]), 0, nil
	}
	return strings.TrimRight(string(a.Name[:]), " "), 0, nil
}

func (a *ArHdr) GetSize() (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(a.Size[:])))
}
