package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"ai/interpreter-go/pkg/binding"
	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/compiler"
	"ai/interpreter-go/pkg/interpreter"
	"ai/interpreter-go/pkg/runtime"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "programs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func compile(t *testing.T, source, name string) *bytecode.Program {
	t.Helper()
	opts := compiler.DefaultOptions()
	opts.Source = name
	prog, err := compiler.CompileSource(source, opts)
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	return prog
}

func runToEnd(t *testing.T, prog *bytecode.Program) runtime.Value {
	t.Helper()
	exe, err := interpreter.Load(prog, binding.NewTable())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := exe.Start()
	var res interpreter.StepResult
	for i := 0; i < 10_000 && !f.Done(); i++ {
		res = f.Step()
	}
	if res.Kind != interpreter.Completed {
		t.Fatalf("result = %v, want completed", res)
	}
	return res.Value
}

func TestPutGetRunsStoredProgram(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	prog := compile(t, "$x = 6; return $x * 7;", "answer.ai")
	prog.Meta.Revision = "abc123"

	entry, err := s.Put(ctx, "answer", prog)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(entry.Checksum) != 64 || entry.Size == 0 {
		t.Fatalf("entry = %+v", entry)
	}

	loaded, got, err := s.Get(ctx, "answer")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Checksum != entry.Checksum || got.Revision != "abc123" || got.Source != "answer.ai" {
		t.Fatalf("stored entry = %+v, want %+v", got, entry)
	}
	if v := runToEnd(t, loaded); !runtime.Equal(v, runtime.IntegerValue{Val: 42}) {
		t.Fatalf("stored program returned %v, want 42", v)
	}
}

func TestPutReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if _, err := s.Put(ctx, "p", compile(t, "return 1;", "p.ai")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put(ctx, "p", compile(t, "return 2;", "p.ai")); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	loaded, _, err := s.Get(ctx, "p")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v := runToEnd(t, loaded); !runtime.Equal(v, runtime.IntegerValue{Val: 2}) {
		t.Fatalf("replaced program returned %v, want 2", v)
	}
	entries, err := s.List(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %v, %v, want one entry", entries, err)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.Put(ctx, name, compile(t, "return 0;", name+".ai")); err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if got := strings.Join(names, ","); got != "alpha,mid,zeta" {
		t.Fatalf("List order = %s", got)
	}

	if err := s.Delete(ctx, "mid"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Get(ctx, "mid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "mid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if _, err := s.Put(ctx, "p", compile(t, "return 1;", "p.ai")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE ai_programs SET program = ? WHERE name = ?`, []byte("AIBCjunk"), "p"); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, _, err := s.Get(ctx, "p"); err == nil || !strings.Contains(err.Error(), "checksum") {
		t.Fatalf("Get of corrupted program = %v, want checksum error", err)
	}
}

func TestPutRejectsEmptyName(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Put(context.Background(), "  ", compile(t, "return 1;", "p.ai")); err == nil {
		t.Fatalf("Put with blank name succeeded")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("Open(oracle) = %v, want unsupported database type", err)
	}
}

func TestRebindDollar(t *testing.T) {
	got := rebindDollar("SELECT a FROM t WHERE b = ? AND c = ?")
	if want := "SELECT a FROM t WHERE b = $1 AND c = $2"; got != want {
		t.Fatalf("rebindDollar = %q, want %q", got, want)
	}
	s := &Store{dialect: "sqlite"}
	if got := s.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}
