package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"ai/interpreter-go/pkg/compiler"
	"ai/interpreter-go/pkg/driver"
	"ai/interpreter-go/pkg/interpreter"
	"ai/interpreter-go/pkg/parser"
	"ai/interpreter-go/pkg/runtime"
)

const (
	historyFile = ".aic_history"
	promptMain  = "ai> "
	promptCont  = "... "
)

func runREPL(opts globalOptions, args []string) int {
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "aic repl does not take arguments (received %s)\n", strings.Join(args, " "))
		return 1
	}
	sess, err := openSession(opts, ".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load manifest: %v\n", err)
		return 1
	}
	env, err := driver.NewEnvironment(sess.manifest, os.Stdout, sess.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare environment: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "%s (:help for commands)\n", cliToolVersion)
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	r := &repl{sess: sess, env: env}
	for {
		src, ok := readStatement(ln)
		if !ok {
			fmt.Fprintln(os.Stdout)
			break
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))
		if strings.HasPrefix(strings.TrimSpace(src), ":") {
			if r.command(strings.TrimSpace(src)) {
				break
			}
			continue
		}
		fmt.Fprintln(os.Stdout, r.eval(context.Background(), src))
	}

	if f, err := os.Create(histPath); err == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
	return 0
}

// readStatement keeps prompting while the buffered input ends mid-statement.
func readStatement(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") || !incomplete(src) {
			return src, true
		}
	}
}

// incomplete reports whether parsing src failed only because input ran out.
func incomplete(src string) bool {
	_, err := parser.Parse(src)
	if err == nil {
		return false
	}
	for _, perr := range parser.Errors(err) {
		if !strings.Contains(perr.Message, "end of input") {
			return false
		}
	}
	return len(parser.Errors(err)) > 0
}

// repl evaluates each input as its own program against one environment, so
// props keep their values between inputs.
type repl struct {
	sess *session
	env  *driver.Environment
}

func (r *repl) eval(ctx context.Context, src string) string {
	opts := compiler.DefaultOptions()
	opts.Source = "repl"
	prog, err := compiler.CompileSource(src, opts)
	if err != nil {
		return err.Error()
	}
	res, _, err := execute(ctx, r.sess, prog, r.env)
	if err != nil && !res.Kind.Terminal() {
		return err.Error()
	}
	switch res.Kind {
	case interpreter.Completed:
		return "=> " + runtime.Format(res.Value)
	default:
		return res.String()
	}
}

func (r *repl) command(line string) (exit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":help", ":h":
		fmt.Fprintln(os.Stdout, "  :help           show this help")
		fmt.Fprintln(os.Stdout, "  :env            list environment bindings")
		fmt.Fprintln(os.Stdout, "  :prop <name>    show a prop value")
		fmt.Fprintln(os.Stdout, "  :quit           leave the repl")
	case ":env":
		fmt.Fprintln(os.Stdout, strings.Join(r.env.Table().Names(), " "))
	case ":prop":
		if len(fields) != 2 {
			fmt.Fprintln(os.Stdout, "usage: :prop <name>")
			return false
		}
		v, ok := r.env.Prop(strings.TrimPrefix(fields[1], "$"))
		if !ok {
			fmt.Fprintf(os.Stdout, "no prop %q\n", fields[1])
			return false
		}
		fmt.Fprintln(os.Stdout, runtime.Format(v))
	default:
		fmt.Fprintf(os.Stdout, "unknown command %s (try :help)\n", fields[0])
	}
	return false
}
