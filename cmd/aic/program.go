package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"ai/interpreter-go/pkg/binding"
	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/compiler"
	"ai/interpreter-go/pkg/driver"
	"ai/interpreter-go/pkg/interpreter"
	"ai/interpreter-go/pkg/runtime"
	"ai/interpreter-go/pkg/scheduler"
	"ai/interpreter-go/pkg/transfer"
)

func runProgram(opts globalOptions, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "aic run requires exactly one program file")
		return 1
	}
	path := args[0]
	sess, err := openSession(opts, startDir(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load manifest: %v\n", err)
		return 1
	}
	prog, err := driver.LoadProgram(path, compiler.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load program: %v\n", err)
		return 1
	}
	env, err := driver.NewEnvironment(sess.manifest, os.Stdout, sess.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare environment: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, stats, err := execute(ctx, sess, prog, env)
	if err != nil && !res.Kind.Terminal() {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return reportResult(res, stats, sess.logger)
}

// execute runs prog to completion on a fresh scheduler, ticking at the
// manifest interval.
func execute(ctx context.Context, sess *session, prog *bytecode.Program, env *driver.Environment) (interpreter.StepResult, scheduler.Stats, error) {
	sched := scheduler.New(
		scheduler.WithLogger(sess.logger),
		scheduler.WithLimits(sess.manifest.Limits),
	)
	h, err := sched.Start(prog, env.Table())
	if err != nil {
		return interpreter.StepResult{}, scheduler.Stats{}, err
	}
	defer sched.Release(h.ID())
	res, err := sched.Run(ctx, h.ID(), sess.manifest.Tick)
	return res, h.Stats(), err
}

func reportResult(res interpreter.StepResult, stats scheduler.Stats, logger zerolog.Logger) int {
	logger.Debug().
		Uint64("steps", stats.Steps).
		Uint64("ticks", stats.Ticks).
		Uint64("suspensions", stats.Suspensions).
		Str("result", res.Kind.String()).
		Msg("program finished")
	switch res.Kind {
	case interpreter.Completed:
		if res.Value != nil && res.Value.Kind() != runtime.KindVoid {
			fmt.Fprintln(os.Stdout, runtime.Format(res.Value))
		}
		return 0
	case interpreter.Cancelled:
		fmt.Fprintf(os.Stderr, "cancelled: %v\n", res.Err)
		return 130
	default:
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", res.Err)
		return 1
	}
}

func runCheck(opts globalOptions, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "aic check requires at least one source file")
		return 1
	}
	sess, err := openSession(opts, startDir(args[0]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load manifest: %v\n", err)
		return 1
	}
	env, err := driver.NewEnvironment(sess.manifest, nil, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare environment: %v\n", err)
		return 1
	}
	status := 0
	for _, path := range args {
		prog, err := driver.CompileFile(path, compiler.DefaultOptions())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s:\n%v\n", path, err)
			status = 1
			continue
		}
		if _, err := binding.Resolve(prog, env.Table()); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			status = 1
			continue
		}
		fmt.Fprintf(os.Stdout, "ok %s: %s instructions, %d bindings, %d routines\n",
			path, humanize.Comma(int64(len(prog.Code))), len(prog.Bindings), len(prog.Routines))
	}
	return status
}

func runBuild(opts globalOptions, args []string) int {
	var (
		source string
		out    string
		text   bool
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--text":
			text = true
		case arg == "-o" || arg == "--out":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires a path\n", arg)
				return 1
			}
			i++
			out = args[i]
		case strings.HasPrefix(arg, "-o="), strings.HasPrefix(arg, "--out="):
			out = arg[strings.IndexByte(arg, '=')+1:]
		case strings.HasPrefix(arg, "-"):
			fmt.Fprintf(os.Stderr, "unknown build flag %q\n", arg)
			return 1
		case source == "":
			source = arg
		default:
			fmt.Fprintf(os.Stderr, "unexpected arguments: %s\n", strings.Join(args[i:], " "))
			return 1
		}
	}
	if source == "" {
		fmt.Fprintln(os.Stderr, "aic build requires a source file")
		return 1
	}
	if _, err := openSession(opts, startDir(source)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load manifest: %v\n", err)
		return 1
	}
	prog, err := driver.CompileFile(source, compiler.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s:\n%v\n", source, err)
		return 1
	}

	var data []byte
	ext := ".aib"
	if text {
		ext = ".yml"
		data, err = transfer.EncodeText(prog)
	} else {
		data, err = transfer.Encode(prog)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode %s: %v\n", source, err)
		return 1
	}
	if out == "" {
		out = strings.TrimSuffix(source, filepath.Ext(source)) + ext
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", out, err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "wrote %s (%s)\n", out, humanize.Bytes(uint64(len(data))))
	return 0
}

func runInspect(opts globalOptions, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "aic inspect requires exactly one program file")
		return 1
	}
	path := args[0]
	if _, err := openSession(opts, startDir(path)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load manifest: %v\n", err)
		return 1
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	prog, err := driver.LoadProgram(path, compiler.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load program: %v\n", err)
		return 1
	}
	encoded, err := transfer.Encode(prog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode %s: %v\n", path, err)
		return 1
	}
	printProgramSummary(path, prog, uint64(info.Size()), uint64(len(encoded)))
	if err := bytecode.Disassemble(os.Stdout, prog); err != nil {
		fmt.Fprintf(os.Stderr, "disassemble: %v\n", err)
		return 1
	}
	return 0
}

func printProgramSummary(path string, prog *bytecode.Program, fileSize, binarySize uint64) {
	fmt.Fprintf(os.Stdout, "file:      %s (%s)\n", path, humanize.Bytes(fileSize))
	fmt.Fprintf(os.Stdout, "binary:    %s\n", humanize.Bytes(binarySize))
	fmt.Fprintf(os.Stdout, "source:    %s\n", orDash(prog.Meta.Source))
	fmt.Fprintf(os.Stdout, "revision:  %s\n", orDash(prog.Meta.Revision))
	fmt.Fprintf(os.Stdout, "checksum:  %s\n", orDash(prog.Meta.Checksum))
	fmt.Fprintf(os.Stdout, "code:      %s instructions, %d constants, %d bindings, %d routines\n",
		humanize.Comma(int64(len(prog.Code))), len(prog.Constants), len(prog.Bindings), len(prog.Routines))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
