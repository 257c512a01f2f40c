package main

import (
	"fmt"
	"os"

	"github.com/ksco/xld/pkg/linker"
	"github.com/ksco/xld/pkg/logger"
	"github.com/ksco/xld/pkg/utils"
)

var version string

const usage = `Usage: %s [options] file...

Options:
  -o FILE                 Write output to FILE (default a.out)
  -L DIR, -l NAME         Add a library search directory / link a library
  -static, -Bdynamic      Disallow / allow shared libraries for later -l
  --as-needed             Only record later shared libraries that are used
  --push-state/--pop-state
  -pie, -shared, -soname NAME
  --dynamic-linker PATH   Set the program interpreter
  -e SYMBOL               Set the entry point (default _start)
  --strip-all, --strip-debug, --no-string-merge
  --threads=N             Number of worker goroutines
  --debug-fuel=N          Allow only N optimisations (forces one thread)
  --validate-output       Check GOT contents after linking
  --time                  Log the duration of each phase
  --log-level=LEVEL       debug, info, warn or error
`

func main() {
	arg, err := linker.ParseArgs(os.Args[1:])
	if err != nil {
		utils.Fatal(err)
	}

	if arg.ShowHelp {
		fmt.Printf(usage, os.Args[0])
		os.Exit(0)
	}
	if arg.ShowVersion {
		fmt.Printf("xld %s\n", version)
		os.Exit(0)
	}

	utils.MustNo(logger.Init(arg.LogLevel))
	defer logger.Sync()

	ctx := linker.NewContext(arg)
	err = linker.Link(ctx)
	if cerr := ctx.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Sync()
		utils.Fatal(err)
	}
}
