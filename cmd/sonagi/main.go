// Sonagi CLI - loads a carrier application archive and runs it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/sonagi-emu/sonagi/archive"
	"github.com/sonagi-emu/sonagi/config"
	"github.com/sonagi-emu/sonagi/host"
	"github.com/sonagi-emu/sonagi/vm"
	"github.com/sonagi-emu/sonagi/window"
)

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0-2)")
	configDir := flag.String("C", ".", "Directory holding sonagi.toml")
	headless := flag.Bool("headless", false, "Run without a window, reading keys from the terminal")
	traceDisplay := flag.Bool("trace-display", false, "Print the draw-request stream instead of rendering (implies -headless)")
	packDir := flag.String("pack", "", "Pack an unpacked application directory into a .sap archive")
	output := flag.String("o", "", "Output path for -pack and -export")
	exportPath := flag.Bool("export", false, "Export the app's records to a CBOR backup and exit")
	importPath := flag.String("import", "", "Import a CBOR record backup before running")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sonagi [options] app.sap\n\n")
		fmt.Fprintf(os.Stderr, "Runs a carrier handset application archive.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sonagi game.sap                  # Run in a window\n")
		fmt.Fprintf(os.Stderr, "  sonagi -headless game.sap        # Run with terminal input\n")
		fmt.Fprintf(os.Stderr, "  sonagi -pack ./apptree -o out.sap\n")
		fmt.Fprintf(os.Stderr, "  sonagi -export -o save.cbor game.sap\n")
		fmt.Fprintf(os.Stderr, "  sonagi -import save.cbor game.sap\n")
	}
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	if *packDir != "" {
		if err := runPack(*packDir, *output); err != nil {
			fail(err)
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		fail(err)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fail(err)
	}
	pkg, err := archive.Read(data)
	if err != nil {
		fail(fmt.Errorf("loading %s: %w", flag.Arg(0), err))
	}
	if cfg.App.Entry != "" {
		pkg.Entry = cfg.App.Entry
	}

	appID := cfg.App.ID
	if appID == "" {
		appID = pkg.AppName
	}

	records, err := openRecords(cfg)
	if err != nil {
		fail(err)
	}
	defer records.Close()

	if *exportPath {
		if err := runExport(records, appID, *output); err != nil {
			fail(err)
		}
		return
	}
	if *importPath != "" {
		if err := runImport(records, *importPath); err != nil {
			fail(err)
		}
	}

	code, err := run(pkg, cfg, records, appID, *headless || *traceDisplay, *traceDisplay)
	if err != nil {
		fail(err)
	}
	os.Exit(code)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func openRecords(cfg *config.Config) (host.RecordStore, error) {
	path := cfg.RecordsPath()
	if path == "" {
		return host.NewMemoryStore(), nil
	}
	return host.OpenSQLiteStore(path)
}

func runPack(dir, out string) error {
	if out == "" {
		return fmt.Errorf("-pack needs -o <output.sap>")
	}
	data, err := archive.PackDir(dir)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func runExport(records host.RecordStore, appID, out string) error {
	if out == "" {
		return fmt.Errorf("-export needs -o <backup.cbor>")
	}
	data, err := host.ExportRecords(records, appID)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func runImport(records host.RecordStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	appID, err := host.ImportRecords(records, data)
	if err != nil {
		return err
	}
	fmt.Printf("Imported records for %s\n", appID)
	return nil
}

// run executes the application. Windowed runs keep the ebiten loop on
// the main goroutine with the VM beside it; headless runs keep the VM in
// the foreground with terminal input.
func run(pkg *archive.Package, cfg *config.Config, records host.RecordStore, appID string, headless, trace bool) (int, error) {
	opts := vm.Options{
		Records:      records,
		AppID:        appID,
		ScreenWidth:  cfg.Screen.Width,
		ScreenHeight: cfg.Screen.Height,
	}
	if pkg.ScreenWidth > 0 {
		opts.ScreenWidth = pkg.ScreenWidth
	}
	if pkg.ScreenHeight > 0 {
		opts.ScreenHeight = pkg.ScreenHeight
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if headless {
		var sink *host.TraceSink
		if trace {
			sink = host.NewTraceSink()
			opts.Display = sink
		}
		if !trace {
			term := host.NewTermSource()
			opts.Input = term
			go func() {
				<-term.Done()
				cancel()
			}()
		}

		machine, err := vm.New(pkg, opts)
		if err != nil {
			return 0, err
		}
		if err := machine.Run(ctx); err != nil && ctx.Err() == nil {
			return 0, err
		}
		if sink != nil {
			for _, op := range sink.Ops() {
				fmt.Println(op.Kind.String())
			}
		}
		return int(machine.ExitCode()), nil
	}

	win := window.New(pkg, opts.ScreenWidth, opts.ScreenHeight, cfg.Screen.Scale)
	opts.Display = win
	opts.Input = win

	machine, err := vm.New(pkg, opts)
	if err != nil {
		return 0, err
	}

	vmErr := make(chan error, 1)
	go func() {
		vmErr <- machine.Run(ctx)
		cancel() // VM finished; close the window
	}()

	if err := win.Run(ctx); err != nil {
		return 0, err
	}
	cancel()
	if err := <-vmErr; err != nil && !errors.Is(err, context.Canceled) {
		return 0, err
	}
	return int(machine.ExitCode()), nil
}
