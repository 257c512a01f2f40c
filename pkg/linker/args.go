package linker

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"
)

const (
	ValidateEnv = "XLD_VALIDATE_OUTPUT"
	ThreadsEnv  = "XLD_THREADS"
	LogLevelEnv = "XLD_LOG_LEVEL"
)

type OutputKind uint8

const (
	OutputKindStaticExecutable OutputKind = iota
	OutputKindDynamicExecutable
	OutputKindSharedObject
)

func (k OutputKind) String() string {
	switch k {
	case OutputKindStaticExecutable:
		return "static-executable"
	case OutputKindDynamicExecutable:
		return "dynamic-executable"
	case OutputKindSharedObject:
		return "shared-object"
	}
	return "unknown"
}

func (k OutputKind) IsExecutable() bool {
	return k != OutputKindSharedObject
}

// TlsMode selects how general and local dynamic TLS accesses are emitted.
type TlsMode uint8

const (
	// TlsModeLocalExec rewrites TLS accesses to the local-exec model.
	TlsModeLocalExec TlsMode = iota
	// TlsModePreserve keeps the model the compiler chose.
	TlsModePreserve
)

type Modifiers struct {
	// AsNeeded drops a shared object unless one of its symbols is used.
	AsNeeded bool
	// AllowShared permits -l to pick lib<name>.so.
	AllowShared bool
}

func DefaultModifiers() Modifiers {
	return Modifiers{AllowShared: true}
}

type InputSpecKind uint8

const (
	InputSpecFile InputSpecKind = iota
	InputSpecLib
)

// InputSpec is either a path or a bare library name as given to -l.
type InputSpec struct {
	Kind InputSpecKind
	Name string
}

func (s InputSpec) String() string {
	if s.Kind == InputSpecLib {
		return "-l" + s.Name
	}
	return s.Name
}

type Input struct {
	Spec InputSpec
	// SearchFirst is a directory searched before the -L paths.
	SearchFirst string
	Modifiers   Modifiers
}

type ContextArg struct {
	Output        string
	LibraryPaths  []string
	Inputs        []Input
	DynamicLinker string
	OutputKind    OutputKind
	Pie           bool
	Soname        string
	Entry         string

	NumThreads     int
	SingleThreaded bool

	StripAll     bool
	StripDebug   bool
	MergeStrings bool

	DebugFuel         *DebugFuel
	ValidateOutput    bool
	TimePhases        bool
	VersionScriptPath string
	LogLevel          string

	ShowHelp    bool
	ShowVersion bool
}

var ignoredFlags = []string{
	"eh-frame-hdr", "build-id", "gc-sections", "start-group", "end-group",
	"nostdlib", "no-undefined-version", "no-relax", "E", "export-dynamic",
	"no-export-dynamic", "fatal-warnings", "no-fatal-warnings",
	"color-diagnostics",
}

func ParseArgs(argv []string) (*ContextArg, error) {
	env.Load()
	a := &ContextArg{
		Output:       "a.out",
		Entry:        "_start",
		MergeStrings: true,
		NumThreads:   env.Int(ThreadsEnv, runtime.NumCPU()),
		LogLevel:     env.Str(LogLevelEnv, "warn"),
	}
	a.ValidateOutput = env.Bool(ValidateEnv)

	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		if name[0] == 'o' {
			return []string{"--" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	args := argv
	var arg string
	var missing string

	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					missing = name
					args = args[1:]
					return true
				}
				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}

			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}
		return false
	}

	readFlag := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	modifierStack := []Modifiers{DefaultModifiers()}
	top := func() *Modifiers {
		return &modifierStack[len(modifierStack)-1]
	}

	shared := false
	threadsSet := false

	for len(args) > 0 {
		if readFlag("help") {
			a.ShowHelp = true
		} else if readFlag("v") || readFlag("version") {
			a.ShowVersion = true
		} else if readArg("o") || readArg("output") {
			a.Output = arg
		} else if readArg("m") {
			if arg != "elf_x86_64" {
				return nil, configErrorf("unknown -m argument: %s", arg)
			}
		} else if readArg("L") || readArg("library-path") {
			a.LibraryPaths = append(a.LibraryPaths, filepath.Clean(arg))
		} else if readArg("l") || readArg("library") {
			a.Inputs = append(a.Inputs, Input{
				Spec:      InputSpec{Kind: InputSpecLib, Name: arg},
				Modifiers: *top(),
			})
		} else if readFlag("static") || readFlag("Bstatic") {
			top().AllowShared = false
		} else if readFlag("Bdynamic") {
			top().AllowShared = true
		} else if readFlag("as-needed") {
			top().AsNeeded = true
		} else if readFlag("no-as-needed") {
			top().AsNeeded = false
		} else if readFlag("push-state") {
			modifierStack = append(modifierStack, *top())
		} else if readFlag("pop-state") {
			if len(modifierStack) == 1 {
				return nil, configErrorf("mismatched --pop-state")
			}
			modifierStack = modifierStack[:len(modifierStack)-1]
		} else if readArg("dynamic-linker") || readArg("I") {
			a.DynamicLinker = arg
		} else if readFlag("no-dynamic-linker") {
			a.DynamicLinker = ""
		} else if readArg("hash-style") {
			if arg != "gnu" {
				return nil, configErrorf("unsupported hash-style `%s`", arg)
			}
		} else if readArg("threads") {
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				return nil, configErrorf("invalid --threads value: %s", arg)
			}
			a.NumThreads = n
			threadsSet = true
		} else if readFlag("strip-all") || readFlag("s") {
			a.StripAll = true
			a.StripDebug = true
		} else if readFlag("strip-debug") || readFlag("S") {
			a.StripDebug = true
		} else if readFlag("no-string-merge") {
			a.MergeStrings = false
		} else if readArg("debug-fuel") {
			n, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return nil, configErrorf("invalid --debug-fuel value: %s", arg)
			}
			a.DebugFuel = NewDebugFuel(n)
		} else if readFlag("validate-output") {
			a.ValidateOutput = true
		} else if readFlag("time") {
			a.TimePhases = true
		} else if readArg("log-level") {
			a.LogLevel = arg
		} else if readArg("version-script") {
			a.VersionScriptPath = arg
		} else if readFlag("pie") || readFlag("pic-executable") {
			a.Pie = true
		} else if readFlag("no-pie") {
			a.Pie = false
		} else if readFlag("shared") || readFlag("Bshareable") {
			shared = true
		} else if readArg("soname") || readArg("h") {
			a.Soname = arg
		} else if readArg("e") || readArg("entry") {
			a.Entry = arg
		} else if readArg("z") || readArg("plugin") || readArg("plugin-opt") ||
			readArg("sysroot") || readArg("O") {
			// Ignored, along with its argument.
		} else if isIgnoredFlag(args[0]) {
			args = args[1:]
		} else {
			if strings.HasPrefix(args[0], "-") {
				return nil, configErrorf("unrecognised argument `%s`", args[0])
			}
			a.Inputs = append(a.Inputs, Input{
				Spec:      InputSpec{Kind: InputSpecFile, Name: args[0]},
				Modifiers: *top(),
			})
			args = args[1:]
		}

		if missing != "" {
			return nil, configErrorf("option -%s: argument missing", missing)
		}
	}

	switch {
	case shared:
		a.OutputKind = OutputKindSharedObject
	case a.DynamicLinker != "":
		a.OutputKind = OutputKindDynamicExecutable
	default:
		a.OutputKind = OutputKindStaticExecutable
	}

	// Fuel must be consumed in one reproducible global order.
	if a.DebugFuel != nil {
		a.NumThreads = 1
		a.SingleThreaded = true
	} else if !threadsSet && a.NumThreads <= 0 {
		a.NumThreads = 1
	}

	return a, nil
}

func isIgnoredFlag(arg string) bool {
	name := strings.TrimLeft(arg, "-")
	if name == arg {
		return false
	}
	name, _, _ = strings.Cut(name, "=")
	for _, f := range ignoredFlags {
		if name == f {
			return true
		}
	}
	return false
}

// BaseAddress is the address every Address resolution is offset from.
func (a *ContextArg) BaseAddress() uint64 {
	if a.IsPositionIndependent() {
		return 0
	}
	return NonPieStartMemAddress
}

func (a *ContextArg) TlsMode() TlsMode {
	if a.OutputKind == OutputKindStaticExecutable {
		return TlsModeLocalExec
	}
	return TlsModePreserve
}

// IsPositionIndependent reports whether the image may be loaded at any
// base, so absolute addresses need RELATIVE relocations.
func (a *ContextArg) IsPositionIndependent() bool {
	return a.Pie || a.OutputKind == OutputKindSharedObject
}

// IsRelocatable reports whether the dynamic linker touches the image at
// load time.
func (a *ContextArg) IsRelocatable() bool {
	return a.Pie || a.OutputKind != OutputKindStaticExecutable
}

func (a *ContextArg) NeedsDynamic() bool {
	return a.IsRelocatable()
}
