package linker

import (
	"os"
	"time"

	"github.com/ksco/xld/pkg/logger"
)

type phaseTimer struct {
	enabled bool
	start   time.Time
}

func newPhaseTimer(ctx *Context) *phaseTimer {
	return &phaseTimer{enabled: ctx.Arg.TimePhases, start: time.Now()}
}

func (t *phaseTimer) done(name string) {
	if !t.enabled {
		return
	}
	now := time.Now()
	logger.Infow("phase", "name", name, "elapsed", now.Sub(t.start))
	t.start = now
}

// Link runs the whole pipeline and writes ctx.Arg.Output.
func Link(ctx *Context) error {
	buf, err := LinkToBuffer(ctx)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(ctx.Arg.Output, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0777)
	if err != nil {
		return err
	}
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LinkToBuffer runs the pipeline and returns the image without
// touching the output path.
func LinkToBuffer(ctx *Context) ([]byte, error) {
	timer := newPhaseTimer(ctx)

	CreateInternalFile(ctx)
	if err := ReadInputFiles(ctx); err != nil {
		return nil, err
	}
	CreateEpilogueFile(ctx)
	timer.done("read input files")

	BuildSymbolDatabase(ctx)
	BindSyntheticSymbols(ctx)
	timer.done("resolve symbols")

	if err := RegisterSectionPieces(ctx); err != nil {
		return nil, err
	}
	MarkLiveSections(ctx)
	ComputeImportExport(ctx)
	timer.done("merge sections")

	layouts, err := ComputeFileLayouts(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkUndefined(ctx, layouts); err != nil {
		return nil, err
	}
	timer.done("file layout")

	l, err := AssembleLayout(ctx, layouts, ctx.Arg.BaseAddress())
	if err != nil {
		return nil, err
	}
	timer.done("assemble layout")

	ctx.Buf = make([]byte, l.FileSize)
	if err := WriteOutput(ctx); err != nil {
		return nil, err
	}
	timer.done("write output")

	if ctx.Arg.ValidateOutput {
		if err := Validate(l, ctx.Buf); err != nil {
			return nil, err
		}
		timer.done("validate")
	}
	return ctx.Buf, nil
}

func RegisterSectionPieces(ctx *Context) error {
	for _, file := range ctx.Objs {
		if !file.IsAlive || file.IsPseudo {
			continue
		}
		if err := file.RegisterSectionPieces(ctx); err != nil {
			return err
		}
	}
	return nil
}

func ComputeImportExport(ctx *Context) {
	for _, file := range ctx.Objs {
		if file.IsAlive && !file.IsPseudo {
			file.ComputeImportExport(ctx)
		}
	}
}

// WriteOutput fills ctx.Buf. Object sections go first since they append
// to .rela.dyn; the GOT fills the front of the relocation tables, and
// the remaining chunks are serialised after both.
func WriteOutput(ctx *Context) error {
	if err := WriteObjectSections(ctx); err != nil {
		return err
	}

	ctx.Got.CopyBuf(ctx)
	for _, chunk := range ctx.Chunks {
		if chunk != Chunker(ctx.Got) {
			chunk.CopyBuf(ctx)
		}
	}
	return nil
}
