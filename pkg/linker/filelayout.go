package linker

import (
	"errors"

	"github.com/RoaringBitmap/roaring"
	"github.com/ksco/xld/pkg/logger"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// FileLayout is what the layout pass decided for one input. The set of
// implementations is closed; switches over it panic on anything else.
type FileLayout interface {
	isFileLayout()
}

type InternalLayout struct {
	File *ObjectFile
}

type ObjectLayout struct {
	File *ObjectFile

	// SectionResolutions is indexed by section index. Discarded, merged
	// and non-allocated sections have no entry.
	SectionResolutions []*Resolution

	Requests  slotRequests
	Undefined *roaring.Bitmap

	// DynRelocCount dynamic relocations are written from DynRelocBase
	// in .rela.dyn.
	DynRelocCount int
	DynRelocBase  int

	nextDynReloc int
}

type DynamicLayout struct {
	File *SharedFile
}

type EpilogueLayout struct {
	File *ObjectFile
}

type NotLoadedLayout struct {
	File *InputFile
}

func (*InternalLayout) isFileLayout()  {}
func (*ObjectLayout) isFileLayout()    {}
func (*DynamicLayout) isFileLayout()   {}
func (*EpilogueLayout) isFileLayout()  {}
func (*NotLoadedLayout) isFileLayout() {}

func newObjectLayout(o *ObjectFile) *ObjectLayout {
	return &ObjectLayout{
		File:      o,
		Requests:  newSlotRequests(),
		Undefined: roaring.New(),
	}
}

// ComputeFileLayouts runs the per-file half of layout on the worker
// pool. Each worker only writes to its own file and layout.
func ComputeFileLayouts(ctx *Context) ([]FileLayout, error) {
	layouts := make([]FileLayout, len(ctx.Files))
	err := forEach(ctx, len(ctx.Files), func(i int) error {
		l, err := computeFileLayout(ctx, ctx.Files[i])
		layouts[i] = l
		return err
	})
	if err != nil {
		return nil, err
	}
	return layouts, nil
}

func computeFileLayout(ctx *Context, file InputFiler) (FileLayout, error) {
	switch f := file.(type) {
	case *ObjectFile:
		switch {
		case !f.IsAlive:
			return &NotLoadedLayout{File: &f.InputFile}, nil
		case f == ctx.InternalObj:
			return &InternalLayout{File: f}, nil
		case f == ctx.EpilogueObj:
			return &EpilogueLayout{File: f}, nil
		}
		l := newObjectLayout(f)
		if err := f.scanRelocations(ctx, l); err != nil {
			return nil, err
		}
		return l, nil
	case *SharedFile:
		if !f.IsAlive {
			logger.Debugw("dropping unused shared object", "file", f.String())
			return &NotLoadedLayout{File: &f.InputFile}, nil
		}
		return &DynamicLayout{File: f}, nil
	}
	panic("unreachable")
}

// checkUndefined reports every strong reference that nothing defines,
// one error per name in name order.
func checkUndefined(ctx *Context, layouts []FileLayout) error {
	refs := make(map[string][]string)
	for _, fl := range layouts {
		l, ok := fl.(*ObjectLayout)
		if !ok {
			continue
		}
		it := l.Undefined.Iterator()
		for it.HasNext() {
			sym := ctx.SymbolDB.Symbol(SymbolId(it.Next()))
			refs[sym.Name] = append(refs[sym.Name], l.File.String())
		}
	}
	if len(refs) == 0 {
		return nil
	}

	names := maps.Keys(refs)
	slices.Sort(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, &UndefinedSymbolError{Name: name, ReferencedBy: refs[name]})
	}
	return errors.Join(errs...)
}
