package main

import (
	"fmt"
	"os"
)

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  aic [--manifest=path] [--log-level=level] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  aic run <file.ai|file.aib|file.yml>")
	fmt.Fprintln(os.Stderr, "  aic check <file.ai>")
	fmt.Fprintln(os.Stderr, "  aic build <file.ai> [-o out] [--text]")
	fmt.Fprintln(os.Stderr, "  aic inspect <file.aib|file.yml|file.ai>")
	fmt.Fprintln(os.Stderr, "  aic repl")
	fmt.Fprintln(os.Stderr, "  aic store put <name> <file>")
	fmt.Fprintln(os.Stderr, "  aic store get <name> [-o out]")
	fmt.Fprintln(os.Stderr, "  aic store list")
	fmt.Fprintln(os.Stderr, "  aic store delete <name>")
	fmt.Fprintln(os.Stderr, "  aic version")
}
