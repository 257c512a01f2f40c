package linker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ksco/xld/pkg/logger"
)

// ReadInputFiles opens every input in command-line order, expands
// archives and linker scripts, and parses the resulting files on the
// worker pool.
func ReadInputFiles(ctx *Context) error {
	if err := readInputs(ctx, ctx.Arg.Inputs); err != nil {
		return err
	}

	numObjs := 0
	for _, obj := range ctx.Objs {
		if !obj.IsPseudo {
			numObjs++
		}
	}
	if numObjs == 0 {
		return configErrorf("no input files")
	}

	err := forEach(ctx, len(ctx.Files), func(i int) error {
		switch f := ctx.Files[i].(type) {
		case *ObjectFile:
			if f.IsPseudo {
				return nil
			}
			return f.parse(ctx.Arg)
		case *SharedFile:
			return f.parse()
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, dso := range ctx.Dsos {
		logger.Debugw("loaded shared object", "file", dso.String(),
			"soname", dso.Soname, "as-needed", dso.Modifiers.AsNeeded)
	}
	return nil
}

func readInputs(ctx *Context, inputs []Input) error {
	for _, in := range inputs {
		path, err := resolveInput(ctx, in)
		if err != nil {
			return err
		}
		if err := ReadFile(ctx, path, in.Modifiers); err != nil {
			return err
		}
	}
	return nil
}

func resolveInput(ctx *Context, in Input) (string, error) {
	if in.Spec.Kind == InputSpecLib {
		return ctx.Libraries.Find(in.Spec.Name, in.SearchFirst, in.Modifiers.AllowShared)
	}
	if in.SearchFirst != "" && !filepath.IsAbs(in.Spec.Name) {
		path := filepath.Join(in.SearchFirst, in.Spec.Name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return in.Spec.Name, nil
}

func ReadFile(ctx *Context, path string, modifiers Modifiers) error {
	if ctx.Visited.Contains(path) {
		return nil
	}

	file, err := OpenFile(path)
	if err != nil {
		return configErrorf("cannot open %s: %v", path, err)
	}
	ctx.Mapped = append(ctx.Mapped, file)

	switch GetFileType(file.Contents) {
	case FileTypeObject:
		return addObjectFile(ctx, file, false)
	case FileTypeThinAr, FileTypeAr:
		ctx.Visited.Add(path)
		members, err := ReadArchiveMembers(file)
		if err != nil {
			return err
		}
		for _, child := range members {
			switch GetFileType(child.Contents) {
			case FileTypeObject:
				if err := addObjectFile(ctx, child, true); err != nil {
					return err
				}
			default:
				logger.Debugw("skipping archive member", "member", child.DisplayName())
			}
		}
		return nil
	case FileTypeDso:
		ctx.Visited.Add(path)
		if ctx.Arg.OutputKind == OutputKindStaticExecutable {
			return configErrorf("%s: cannot link a shared object into a static executable", path)
		}
		return addSharedFile(ctx, file, modifiers)
	case FileTypeText:
		ctx.Visited.Add(path)
		inputs, err := readLinkerScript(file, modifiers)
		if err != nil {
			return err
		}
		return readInputs(ctx, inputs)
	case FileTypeEmpty:
		return nil
	}
	return configErrorf("%s: unknown file type", path)
}

func nextPriority(ctx *Context) uint32 {
	p := ctx.FilePriority
	ctx.FilePriority++
	return p
}

func appendFile(ctx *Context, f InputFiler) {
	f.Base().Index = len(ctx.Files)
	ctx.Files = append(ctx.Files, f)
}

func addObjectFile(ctx *Context, file *File, inLib bool) error {
	if err := CheckFileCompatibility(file); err != nil {
		return err
	}

	obj, err := NewObjectFile(file, inLib)
	if err != nil {
		return err
	}
	obj.Priority = nextPriority(ctx)
	appendFile(ctx, obj)
	ctx.Objs = append(ctx.Objs, obj)
	return nil
}

func addSharedFile(ctx *Context, file *File, modifiers Modifiers) error {
	if err := CheckFileCompatibility(file); err != nil {
		return err
	}

	dso, err := NewSharedFile(file, modifiers)
	if err != nil {
		return fmt.Errorf("%s: %w", file.Name, err)
	}
	dso.Priority = nextPriority(ctx)
	appendFile(ctx, dso)
	ctx.Dsos = append(ctx.Dsos, dso)
	return nil
}
