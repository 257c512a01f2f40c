package linker

import (
	"fmt"
	"strings"
)

// ConfigError is an unsupported or contradictory option or input feature.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

type UndefinedSymbolError struct {
	Name         string
	ReferencedBy []string
}

func (e *UndefinedSymbolError) Error() string {
	return fmt.Sprintf("undefined symbol: %s\n>>> referenced by %s",
		e.Name, strings.Join(e.ReferencedBy, "\n>>> referenced by "))
}

type UnsupportedRelocationError struct {
	Type uint32
}

func (e *UnsupportedRelocationError) Error() string {
	return fmt.Sprintf("unsupported relocation type %d", e.Type)
}

type RelocationRangeError struct {
	Type    uint32
	Symbol  string
	File    string
	Section string
	Offset  uint64
	Value   uint64
	Width   int
}

func (e *RelocationRangeError) Error() string {
	return fmt.Sprintf("%s:(%s+0x%x): relocation %s against `%s` out of range: "+
		"0x%x does not fit in %d bytes",
		e.File, e.Section, e.Offset, relocName(e.Type), e.Symbol, e.Value, e.Width)
}

type LayoutError struct {
	Msg string
}

func (e *LayoutError) Error() string {
	return "layout: " + e.Msg
}

// ValidationError reports a GOT slot whose contents disagree with the
// computed layout. It always indicates a linker bug.
type ValidationError struct {
	Name       string
	Kind       TargetResolutionKind
	Expected   uint64
	Got        uint64
	GotAddress uint64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("res=%s `%s` has address 0x%x, but GOT (at 0x%x) points to 0x%x",
		e.Kind, e.Name, e.Expected, e.GotAddress, e.Got)
}
