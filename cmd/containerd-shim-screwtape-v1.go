package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/screwtape/config"
	"github.com/MarcinKonowalczyk/screwtape/driver"
	st_shim "github.com/MarcinKonowalczyk/screwtape/shim"
	"github.com/MarcinKonowalczyk/screwtape/st"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Maybe hijack the shim to run as screwtape interpreter
	screwtape, args := isScrewtapeArg(os.Args[1:])

	if screwtape {
		if err := runScrewtape(ctx, args); err != nil {
			fmt.Fprintln(os.Stderr, "Error running screwtape:", err)
			os.Exit(1)
		}
	} else {
		shim.Run(ctx, st_shim.NewManager("io.containerd.screwtape.v1"))
	}
}

///////////////

func isScrewtapeArg(args []string) (bool, []string) {
	for i, arg := range args {
		if arg == "screwtape" {
			rest := append([]string{}, args[:i]...)
			return true, append(rest, args[i+1:]...)
		}
	}
	return false, args
}

type flags struct {
	file            string
	config          string
	interval        time.Duration
	policy          string
	maxSteps        uint64
	tapeFromOpcodes bool
	dumpTape        bool
	debug           bool
	set             map[string]bool
}

func parseScrewtapeFlags(args []string) (*flags, error) {
	f := &flags{set: map[string]bool{}}
	fs := flag.NewFlagSet("screwtape", flag.ContinueOnError)
	fs.StringVar(&f.file, "file", "", "screwtape source file")
	fs.StringVar(&f.config, "config", "", "screwtape.toml or screwtape.yaml runner configuration")
	fs.DurationVar(&f.interval, "interval", 0, "pause between steps")
	fs.StringVar(&f.policy, "policy", "", "cell arithmetic: wrap or clamp")
	fs.Uint64Var(&f.maxSteps, "max-steps", 0, "stop after this many steps (0 = unlimited)")
	fs.BoolVar(&f.tapeFromOpcodes, "tape-from-opcodes", false, "initialize the tape from the program characters")
	fs.BoolVar(&f.dumpTape, "dump-tape", false, "print the final tape to stderr")
	fs.BoolVar(&f.debug, "debug", st_shim.Debug(), "trace every step")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	if f.file == "" {
		return nil, fmt.Errorf("invalid argument: -file is required")
	}
	return f, nil
}

// settings merges the config file (if any) with the flags given explicitly.
func (f *flags) settings() (*config.Config, error) {
	c := config.Default()
	if f.config != "" {
		loaded, err := config.Load(f.config)
		if err != nil {
			return nil, err
		}
		c = loaded
	}
	if f.set["interval"] {
		c.Interval = f.interval
	}
	if f.set["policy"] {
		p, ok := st.ParsePolicy(f.policy)
		if !ok {
			return nil, fmt.Errorf("invalid argument: unknown policy %q", f.policy)
		}
		c.Policy = p
	}
	if f.set["max-steps"] {
		c.MaxSteps = f.maxSteps
	}
	if f.set["tape-from-opcodes"] {
		c.TapeFromOpcodes = f.tapeFromOpcodes
	}
	return c, nil
}

func runScrewtape(ctx context.Context, args []string) error {
	f, err := parseScrewtapeFlags(args)
	if err != nil {
		return err
	}
	if f.debug {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}

	c, err := f.settings()
	if err != nil {
		return err
	}

	source, err := os.ReadFile(f.file)
	if err != nil {
		return err
	}

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("program", f.file))
	log.G(ctx).WithField("policy", c.Policy).WithField("interval", c.Interval).Debug("loaded")

	interpreter := st.NewInterpreter(string(source), c.Options()...)
	if c.TapeFromOpcodes {
		interpreter.ReinitializeTapeFromProgramOpcodes(c.Opcodes)
	}

	runner := driver.New(interpreter,
		driver.WithOutput(os.Stdout),
		driver.WithInterval(c.Interval),
		driver.WithMaxSteps(c.MaxSteps),
		driver.WithTrace(f.debug),
	)
	err = runner.Run(ctx)
	if f.dumpTape {
		dumpTape(os.Stderr, runner.Snapshot())
	}
	if errors.Is(err, context.Canceled) {
		log.G(ctx).Info("interrupted")
		return nil
	}
	return err
}

// dumpTape writes the tape on one line, the current cell marked with '*'.
func dumpTape(w io.Writer, cells []st.CellView) {
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		if c.Current {
			parts = append(parts, fmt.Sprintf("*%d", c.Value))
		} else {
			parts = append(parts, fmt.Sprint(c.Value))
		}
	}
	fmt.Fprintf(w, "\n[ %s ]\n", strings.Join(parts, " "))
}
