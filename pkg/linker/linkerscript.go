package linker

import (
	"path/filepath"
	"strings"

	"github.com/ksco/xld/pkg/utils"
)

// readLinkerScript understands the GROUP/INPUT scripts that toolchains
// install in place of libc.so and friends. Anything else is rejected.
func readLinkerScript(file *File, modifiers Modifiers) ([]Input, error) {
	tokens := tokenizeScript(string(file.Contents))
	dir := filepath.Dir(file.Name)

	var inputs []Input
	i := 0
	next := func() string {
		if i >= len(tokens) {
			return ""
		}
		i++
		return tokens[i-1]
	}

	var readList func(m Modifiers) error
	readList = func(m Modifiers) error {
		if tok := next(); tok != "(" {
			return configErrorf("%s: expected ( but got `%s`", file.Name, tok)
		}
		for {
			tok := next()
			switch tok {
			case "":
				return configErrorf("%s: unexpected end of linker script", file.Name)
			case ")":
				return nil
			case ",":
			case "AS_NEEDED":
				inner := m
				inner.AsNeeded = true
				if err := readList(inner); err != nil {
					return err
				}
			default:
				inputs = append(inputs, scriptInput(tok, dir, m))
			}
		}
	}

	for i < len(tokens) {
		switch tok := next(); tok {
		case "GROUP", "INPUT":
			if err := readList(modifiers); err != nil {
				return nil, err
			}
		case "OUTPUT_FORMAT", "SEARCH_DIR", "OUTPUT_ARCH":
			depth := 0
			for {
				t := next()
				if t == "(" {
					depth++
				} else if t == ")" {
					depth--
				}
				if depth == 0 || t == "" {
					break
				}
			}
		case ";":
		default:
			return nil, configErrorf("%s: unsupported linker script command `%s`", file.Name, tok)
		}
	}
	return inputs, nil
}

func scriptInput(tok string, dir string, m Modifiers) Input {
	if name, ok := utils.RemovePrefix(tok, "-l"); ok {
		return Input{Spec: InputSpec{Kind: InputSpecLib, Name: name}, SearchFirst: dir, Modifiers: m}
	}
	return Input{Spec: InputSpec{Kind: InputSpecFile, Name: tok}, SearchFirst: dir, Modifiers: m}
}

func tokenizeScript(s string) []string {
	var tokens []string
	for len(s) > 0 {
		switch {
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s[2:], "*/")
			if end < 0 {
				return tokens
			}
			s = s[end+4:]
		case s[0] == ' ' || s[0] == '\t' || s[0] == '\n' || s[0] == '\r':
			s = s[1:]
		case s[0] == '(' || s[0] == ')' || s[0] == ',' || s[0] == ';':
			tokens = append(tokens, s[:1])
			s = s[1:]
		case s[0] == '"':
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				tokens = append(tokens, s[1:])
				return tokens
			}
			tokens = append(tokens, s[1:end+1])
			s = s[end+2:]
		default:
			end := strings.IndexAny(s, " \t\r\n(),;\"")
			if end < 0 {
				end = len(s)
			}
			tokens = append(tokens, s[:end])
			s = s[end:]
		}
	}
	return tokens
}
