// Package main provides the command line front end of ARMSim.
// ARMSim is a functional ARM7TDMI-class simulator with a debugger core.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/armsim/emu"
	"github.com/sarchlab/armsim/loader"
)

// Exit codes.
const (
	exitOK        = 0
	exitUsage     = 1
	exitFailed    = 2
	exitAssertion = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options holds the parsed command line.
type options struct {
	configPath string
	mode       emu.StepMode
	steps      int
	interrupt  *emu.InterruptParams
	verbose    bool
	trace      bool
	cpuProfile string
	memProfile string
	program    string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("armsim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to configuration JSON file")
	mode := fs.String("mode", "run", "Step mode: into, over, out or run")
	steps := fs.Int("steps", 1, "Number of steps to take")
	irq := fs.String("interrupt", "", "Periodic interrupt as KIND:DELAY:PERIOD, e.g. IRQ:10:5")
	verbose := fs.Bool("v", false, "Verbose output")
	trace := fs.Bool("trace", false, "Log every retired instruction")
	cpuProfile := fs.String("cpuprofile", "", "Write a CPU profile to file")
	memProfile := fs.String("memprofile", "", "Write a memory profile to file")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: armsim [options] <program.json|program.elf>\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected one program file")
	}

	opts := &options{
		configPath: *configPath,
		steps:      *steps,
		verbose:    *verbose,
		trace:      *trace,
		cpuProfile: *cpuProfile,
		memProfile: *memProfile,
		program:    fs.Arg(0),
	}

	var err error
	if opts.mode, err = emu.ParseStepMode(*mode); err != nil {
		return nil, err
	}
	if opts.steps < 1 {
		return nil, fmt.Errorf("steps must be at least 1")
	}
	if *irq != "" {
		if opts.interrupt, err = parseInterrupt(*irq); err != nil {
			return nil, err
		}
	}

	return opts, nil
}

// parseInterrupt reads KIND:DELAY:PERIOD.
func parseInterrupt(s string) (*emu.InterruptParams, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("interrupt must be KIND:DELAY:PERIOD, got %q", s)
	}

	kind, err := emu.ParseInterruptKind(parts[0])
	if err != nil {
		return nil, err
	}
	delay, err := strconv.ParseUint(parts[1], 0, 64)
	if err != nil {
		return nil, fmt.Errorf("bad interrupt delay: %w", err)
	}
	period, err := strconv.ParseUint(parts[2], 0, 64)
	if err != nil {
		return nil, fmt.Errorf("bad interrupt period: %w", err)
	}

	return &emu.InterruptParams{DelayBeforeFirst: delay, Period: period, Kind: kind}, nil
}

func newLogger(stderr io.Writer, opts *options) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch {
	case opts.trace:
		logger.SetLevel(logrus.TraceLevel)
	case opts.verbose:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if err != flag.ErrHelp {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitUsage
	}
	logger := newLogger(stderr, opts)

	config := emu.DefaultConfig()
	if opts.configPath != "" {
		if config, err = emu.LoadConfig(opts.configPath); err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return exitUsage
		}
	}

	prog, err := loader.Load(opts.program, config.FillValue)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading program: %v\n", err)
		return exitUsage
	}
	logger.WithFields(logrus.Fields{
		"program":    opts.program,
		"entry":      fmt.Sprintf("0x%X", prog.Entry),
		"segments":   len(prog.Segments),
		"assertions": len(prog.Assertions),
	}).Debug("loaded")

	emuOpts := append(prog.Options(), emu.WithConfig(config), emu.WithLogger(logger))
	e := emu.NewEmulator(emuOpts...)
	e.AcceptHook(emu.NewTracer(logger))
	if opts.interrupt != nil {
		e.SetInterrupt(*opts.interrupt)
	}

	if err := e.Reset(); err != nil {
		fmt.Fprintf(stderr, "Error resetting: %v\n", err)
		return exitFailed
	}

	if opts.cpuProfile != "" {
		f, err := os.Create(opts.cpuProfile)
		if err != nil {
			fmt.Fprintf(stderr, "Error creating CPU profile: %v\n", err)
			return exitUsage
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(stderr, "Error starting CPU profile: %v\n", err)
			return exitUsage
		}
		defer pprof.StopCPUProfile()
	}
	if opts.memProfile != "" {
		defer writeHeapProfile(opts.memProfile, stderr)
	}

	code := exitOK
	for i := 0; i < opts.steps; i++ {
		res := e.Step(ctx, opts.mode)
		for _, f := range res.AssertionFailures {
			fmt.Fprintf(stdout, "Assertion failed: %s\n", f)
			code = exitAssertion
		}
		if res.Err != nil || res.Signal != nil {
			printStop(stdout, res)
			if res.Err != nil {
				code = exitFailed
			}
			break
		}
	}

	printState(stdout, e)
	return code
}

func writeHeapProfile(path string, stderr io.Writer) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating memory profile: %v\n", err)
		return
	}
	defer func() { _ = f.Close() }()

	if err := pprof.WriteHeapProfile(f); err != nil {
		fmt.Fprintf(stderr, "Error writing memory profile: %v\n", err)
	}
}

func printStop(w io.Writer, res emu.StepResult) {
	switch {
	case res.Signal != nil:
		fmt.Fprintf(w, "Stopped: %v\n", res.Signal)
	case res.Err != nil:
		fmt.Fprintf(w, "Stopped: %v\n", res.Err)
	}
}

func printState(w io.Writer, e *emu.Emulator) {
	regs := e.Registers()
	current := regs.Current()

	fmt.Fprintf(w, "\nState: %s  Cycle: %d  Mode: %s\n", e.State(), e.Cycle(), regs.Mode)
	for i, v := range current {
		fmt.Fprintf(w, "R%-2d = 0x%08X", i, v)
		if i%4 == 3 {
			fmt.Fprintln(w)
		} else {
			fmt.Fprint(w, "  ")
		}
	}

	var flags []string
	for _, f := range emu.Flags {
		if e.Flags()[f] {
			flags = append(flags, f.String())
		} else {
			flags = append(flags, strings.ToLower(f.String()))
		}
	}
	fmt.Fprintf(w, "CPSR = 0x%08X  [%s]\n", regs.CPSR, strings.Join(flags, " "))

	if line, ok := e.CurrentLine(); ok {
		fmt.Fprintf(w, "Line: %d\n", line)
	}
}
