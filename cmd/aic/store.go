package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"ai/interpreter-go/pkg/compiler"
	"ai/interpreter-go/pkg/driver"
	"ai/interpreter-go/pkg/store"
	"ai/interpreter-go/pkg/transfer"
)

func runStore(opts globalOptions, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "aic store requires a subcommand (put, get, list, delete)")
		return 1
	}
	sess, err := openSession(opts, ".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load manifest: %v\n", err)
		return 1
	}
	st, err := openStore(sess.manifest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer st.Close()

	ctx := context.Background()
	switch args[0] {
	case "put":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "aic store put requires a name and a program file")
			return 1
		}
		return storePut(ctx, st, args[1], args[2])
	case "get":
		return storeGet(ctx, st, args[1:])
	case "list":
		if len(args) > 1 {
			fmt.Fprintf(os.Stderr, "aic store list does not take arguments (received %s)\n", strings.Join(args[1:], " "))
			return 1
		}
		return storeList(ctx, st)
	case "delete":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "aic store delete requires a name")
			return 1
		}
		if err := st.Delete(ctx, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "deleted %s\n", args[1])
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown store subcommand %q\n", args[0])
		return 1
	}
}

// openStore opens the manifest's program store. A relative sqlite path is
// resolved against the manifest directory.
func openStore(m *driver.Manifest) (*store.Store, error) {
	dsn := m.Store.DSN
	sqlite := m.Store.Driver == "" || m.Store.Driver == "sqlite" || m.Store.Driver == "sqlite3"
	if sqlite && dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && !filepath.IsAbs(dsn) {
		dsn = filepath.Join(m.Dir(), dsn)
	}
	return store.Open(m.Store.Driver, dsn)
}

func storePut(ctx context.Context, st *store.Store, name, path string) int {
	prog, err := driver.LoadProgram(path, compiler.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load program: %v\n", err)
		return 1
	}
	entry, err := st.Put(ctx, name, prog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "stored %s (%s, checksum %s)\n", entry.Name, humanize.Bytes(uint64(entry.Size)), shortSum(entry.Checksum))
	return 0
}

func storeGet(ctx context.Context, st *store.Store, args []string) int {
	var name, out string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-o":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "-o requires a path")
				return 1
			}
			i++
			out = args[i]
		case name == "":
			name = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unexpected arguments: %s\n", strings.Join(args[i:], " "))
			return 1
		}
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "aic store get requires a name")
		return 1
	}
	prog, entry, err := st.Get(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "no stored program named %q\n", name)
			return 1
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if out == "" {
		out = name + ".aib"
	}
	data, err := transfer.Encode(prog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode %s: %v\n", name, err)
		return 1
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", out, err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "wrote %s (%s, stored %s)\n", out, humanize.Bytes(uint64(len(data))), humanize.Time(entry.Updated))
	return 0
}

func storeList(ctx context.Context, st *store.Store) int {
	entries, err := st.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no stored programs")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tSIZE\tCHECKSUM\tREVISION\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Name, orDash(e.Source), humanize.Bytes(uint64(e.Size)), shortSum(e.Checksum),
			orDash(shortSum(e.Revision)), humanize.Time(e.Updated))
	}
	tw.Flush()
	return 0
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
