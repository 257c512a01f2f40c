package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/ksco/xld/pkg/logger"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Validate re-reads a written image and checks that every GOT slot
// filled at link time holds the address the layout promised.
func Validate(l *Layout, output []byte) error {
	if l.Args.IsRelocatable() {
		logger.Debugw("skipping output validation for relocatable output")
		return nil
	}

	f, err := elf.NewFile(bytes.NewReader(output))
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	defer f.Close()

	got := f.Section(".got")
	if got == nil {
		return fmt.Errorf("validate: output has no .got section")
	}
	data, err := got.Data()
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	check := func(name string, res *Resolution) error {
		if res == nil || !res.HasGot() || res.Value.Kind == ValueDynamic {
			return nil
		}
		switch res.Kind {
		case ResolutionIFunc, ResolutionTls, ResolutionGotTlsOffset, ResolutionGotTlsModule:
			return nil
		}

		off := res.GotAddress - got.Addr
		if res.GotAddress < got.Addr || off+GotEntrySize > uint64(len(data)) {
			return fmt.Errorf("validate: GOT address 0x%x of `%s` is outside .got", res.GotAddress, name)
		}
		actual := binary.LittleEndian.Uint64(data[off:])
		if actual != res.Value.Addr {
			return &ValidationError{
				Name:       name,
				Kind:       res.Kind,
				Expected:   res.Value.Addr,
				Got:        actual,
				GotAddress: res.GotAddress,
			}
		}
		return nil
	}

	names := maps.Keys(l.SymbolDB.GlobalNames)
	slices.Sort(names)
	for _, name := range names {
		sym := l.SymbolDB.GlobalNames[name]
		if err := check(name, l.SymbolResolution(sym.Id)); err != nil {
			return err
		}
	}

	for _, fl := range l.FileLayouts {
		ol, ok := fl.(*ObjectLayout)
		if !ok {
			continue
		}
		for i, res := range ol.SectionResolutions {
			if res == nil {
				continue
			}
			name := fmt.Sprintf("%s:%s", ol.File, ol.File.Sections[i].Name())
			if err := check(name, res); err != nil {
				return err
			}
		}
	}
	return nil
}
