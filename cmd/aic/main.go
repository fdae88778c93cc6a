package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai/interpreter-go/pkg/driver"
)

const cliToolVersion = "aic 0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

type globalOptions struct {
	manifestPath string
	logLevel     string
}

func run(args []string) int {
	opts, rest, err := parseGlobalOptions(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		return 1
	}
	if len(rest) == 0 {
		printUsage()
		return 1
	}

	switch rest[0] {
	case "--help", "-h", "help":
		printUsage()
		return 0
	case "--version", "-V", "version":
		fmt.Fprintln(os.Stdout, cliToolVersion)
		return 0
	case "run":
		return runProgram(opts, rest[1:])
	case "check":
		return runCheck(opts, rest[1:])
	case "build":
		return runBuild(opts, rest[1:])
	case "inspect":
		return runInspect(opts, rest[1:])
	case "repl":
		return runREPL(opts, rest[1:])
	case "store":
		return runStore(opts, rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", rest[0])
		printUsage()
		return 1
	}
}

// parseGlobalOptions consumes the flags that precede the command.
func parseGlobalOptions(args []string) (globalOptions, []string, error) {
	var opts globalOptions
	for len(args) > 0 {
		arg := args[0]
		var target *string
		var name string
		switch {
		case arg == "--manifest" || strings.HasPrefix(arg, "--manifest="):
			target, name = &opts.manifestPath, "--manifest"
		case arg == "--log-level" || strings.HasPrefix(arg, "--log-level="):
			target, name = &opts.logLevel, "--log-level"
		default:
			return opts, args, nil
		}
		if value, ok := strings.CutPrefix(arg, name+"="); ok {
			*target = value
			args = args[1:]
			continue
		}
		if len(args) < 2 {
			return opts, nil, fmt.Errorf("%s requires a value", name)
		}
		*target = args[1]
		args = args[2:]
	}
	return opts, args, nil
}

// session is the manifest and logger shared by every command.
type session struct {
	manifest *driver.Manifest
	logger   zerolog.Logger
}

// openSession loads the manifest named by --manifest, or the nearest ai.yml
// above start. Without either, a default manifest is used.
func openSession(opts globalOptions, start string) (*session, error) {
	manifest, err := loadManifestFrom(opts.manifestPath, start)
	if err != nil {
		return nil, err
	}
	level := manifest.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, err
	}
	return &session{manifest: manifest, logger: logger}, nil
}

func loadManifestFrom(explicit, start string) (*driver.Manifest, error) {
	if explicit != "" {
		return driver.LoadManifest(explicit)
	}
	if start == "" {
		start = "."
	}
	path, err := driver.FindManifest(start)
	if err != nil {
		if errors.Is(err, driver.ErrManifestNotFound) {
			m := driver.NewManifest("ai")
			m.LogLevel = "warn"
			return m, nil
		}
		return nil, err
	}
	return driver.LoadManifest(path)
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}

// startDir is where manifest lookup begins for a command operating on path.
func startDir(path string) string {
	if path == "" {
		return "."
	}
	return filepath.Dir(path)
}
