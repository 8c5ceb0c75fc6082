package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/modules/blob"
	"github.com/wippyai/jscage/modules/console"
	"github.com/wippyai/jscage/modules/crypto"
	"github.com/wippyai/jscage/modules/encoding"
	"github.com/wippyai/jscage/modules/esm"
	"github.com/wippyai/jscage/modules/fetch"
	"github.com/wippyai/jscage/modules/timers"
	"github.com/wippyai/jscage/modules/urlmod"
)

func main() {
	var (
		enginePath  = flag.String("engine", "", "Path to the QuickJS reactor wasm binary")
		scriptFile  = flag.String("script", "", "Path to a script file to run")
		expr        = flag.String("e", "", "Script text to run")
		moduleList  = flag.String("modules", "console,timers,fetch,crypto,encoding,url,blob", "Comma-separated capability modules")
		baseURL     = flag.String("base", "", "Base URL for ES module imports (enables the esm loader)")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive REPL")
	)
	flag.Parse()

	if *enginePath == "" {
		if env := os.Getenv("QJS_WASM"); env != "" {
			*enginePath = env
		}
	}
	if *enginePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -engine <qjs.wasm> -script <file.js>")
		fmt.Fprintln(os.Stderr, "       run -engine <qjs.wasm> -e 'console.log(1+2)'")
		fmt.Fprintln(os.Stderr, "       run -engine <qjs.wasm> -i  (interactive REPL)")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			cage.SetLogger(logger)
		}
	}

	if *interactive {
		if err := runInteractive(*enginePath, *moduleList, *baseURL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	source := *expr
	if source == "" {
		if *scriptFile == "" {
			fmt.Fprintln(os.Stderr, "Need -script or -e")
			os.Exit(1)
		}
		data, err := os.ReadFile(*scriptFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		source = string(data)
	}

	if err := run(*enginePath, source, *moduleList, *baseURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(enginePath, source, moduleList, baseURL string) error {
	ctx := context.Background()

	c, err := cage.NewFromEnginePath(ctx, enginePath)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	cons := console.New()
	modules, err := buildModules(cons, moduleList, baseURL)
	if err != nil {
		return err
	}

	result := c.RunCode(ctx, source, modules)

	for _, line := range cons.Lines() {
		fmt.Printf("[%s] %s\n", line.Level, console.FormatAll(line.Args))
	}

	if !result.OK() {
		return result.Err
	}
	return nil
}

// buildModules assembles the capability module set. The console module
// is always first so scripts can log during other modules' work.
func buildModules(cons *console.Console, moduleList, baseURL string) ([]cage.Module, error) {
	modules := []cage.Module{cons}
	for _, name := range strings.Split(moduleList, ",") {
		switch strings.TrimSpace(name) {
		case "", "console":
			// already installed
		case "timers":
			modules = append(modules, timers.New())
		case "fetch":
			modules = append(modules, fetch.New())
		case "crypto":
			modules = append(modules, crypto.New())
		case "encoding":
			modules = append(modules, encoding.New())
		case "url":
			modules = append(modules, urlmod.New())
		case "blob":
			modules = append(modules, blob.New())
		case "esm":
			// handled below; needs the base URL
		default:
			return nil, fmt.Errorf("unknown module %q", name)
		}
	}
	if baseURL != "" {
		modules = append(modules, esm.New(baseURL))
	}
	return modules, nil
}
