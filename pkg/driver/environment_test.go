package driver

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	"ai/interpreter-go/pkg/compiler"
	"ai/interpreter-go/pkg/interpreter"
	"ai/interpreter-go/pkg/runtime"
	"ai/interpreter-go/pkg/transfer"
)

func runSource(t *testing.T, env *Environment, source string) (interpreter.StepResult, int) {
	t.Helper()
	prog, err := compiler.CompileSource(source, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	exe, err := interpreter.Load(prog, env.Table())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := exe.Start()
	suspended := 0
	for i := 0; i < 10_000; i++ {
		r := f.Step()
		if r.Kind == interpreter.Suspended {
			suspended++
		}
		if r.Kind.Terminal() {
			return r, suspended
		}
	}
	t.Fatalf("program did not finish")
	return interpreter.StepResult{}, 0
}

func TestEnvironmentSimulatesManifest(t *testing.T) {
	m, err := LoadManifest(writeManifest(t, roverManifest))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	var out, logs bytes.Buffer
	env, err := NewEnvironment(m, &out, zerolog.New(&logs))
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	res, suspended := runSource(t, env, `
use $speed;
use $heading;
$speed = 4.5;
drive forward 1.0;
print [1, 'a'] $heading $speed;
return ping;
`)
	if res.Kind != interpreter.Completed || !runtime.Equal(res.Value, runtime.IntegerValue{Val: 7}) {
		t.Fatalf("result = %v, want completed(7)", res)
	}
	if suspended != 3 {
		t.Fatalf("drive suspended %d times, want 3 ticks", suspended)
	}
	if got := out.String(); got != "[1, \"a\"] north 4.5\n" {
		t.Fatalf("print output = %q", got)
	}
	if v, _ := env.Prop("speed"); !runtime.Equal(v, runtime.FloatValue{Val: 4.5}) {
		t.Fatalf("speed = %v, want 4.5", v)
	}
	want := []string{"drive 1.0", "print [1, \"a\"] north 4.5", "ping"}
	if got := env.Calls(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %q, want %q", got, want)
	}
	if !strings.Contains(logs.String(), `"prop":"speed"`) {
		t.Fatalf("prop write not logged: %s", logs.String())
	}
}

func TestEnvironmentRejectsReadOnlyWrite(t *testing.T) {
	m, err := LoadManifest(writeManifest(t, roverManifest))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	env, err := NewEnvironment(m, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	prog, err := compiler.CompileSource("use $heading; $heading = 'south';", compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	if _, err := interpreter.Load(prog, env.Table()); !errors.Is(err, runtime.ErrLoad) {
		t.Fatalf("Load error = %v, want LoadError for read-only prop", err)
	}
}

func TestWaitCountsTicks(t *testing.T) {
	m := NewManifest("w")
	m.Tick = 100 * time.Millisecond
	env, err := NewEnvironment(m, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	cases := []struct {
		source string
		ticks  int
	}{
		{"wait 0;", 0},
		{"wait 0.25;", 3},
		{"wait 1;", 10},
	}
	for _, tc := range cases {
		res, suspended := runSource(t, env, tc.source)
		if res.Kind != interpreter.Completed || suspended != tc.ticks {
			t.Fatalf("%s: %v after %d suspensions, want %d", tc.source, res, suspended, tc.ticks)
		}
	}
	res, _ := runSource(t, env, "wait 'soon';")
	if res.Kind != interpreter.Faulted || !errors.Is(res.Err, runtime.ErrType) {
		t.Fatalf("wait 'soon' = %v, want TypeError", res)
	}
}

func TestRevisionReadsHead(t *testing.T) {
	dir := t.TempDir()
	if rev, err := Revision(dir); err != nil || rev != "" {
		t.Fatalf("Revision outside a repository = %q, %v", rev, err)
	}

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	if rev, err := Revision(dir); err != nil || rev != "" {
		t.Fatalf("Revision of empty repository = %q, %v", rev, err)
	}
	path := filepath.Join(dir, "main.ai")
	if err := os.WriteFile(path, []byte("return 1;\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if _, err := wt.Add("main.ai"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	prog, err := CompileFile(path, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if prog.Meta.Revision != hash.String() || prog.Meta.Source != "main.ai" {
		t.Fatalf("Meta = %+v, want revision %s", prog.Meta, hash)
	}
}

func TestLoadProgramDetectsFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.ai")
	if err := os.WriteFile(src, []byte("return 2 + 3;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	prog, err := LoadProgram(src, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("LoadProgram(source): %v", err)
	}
	env, err := NewEnvironment(nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	for _, name := range []string{"main.aib", "main.yml"} {
		path := filepath.Join(dir, name)
		var data []byte
		if strings.HasSuffix(name, ".aib") {
			data, err = transfer.Encode(prog)
		} else {
			data, err = transfer.EncodeText(prog)
		}
		if err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		loaded, err := LoadProgram(path, compiler.DefaultOptions())
		if err != nil {
			t.Fatalf("LoadProgram(%s): %v", name, err)
		}
		exe, err := interpreter.Load(loaded, env.Table())
		if err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		f := exe.Start()
		var res interpreter.StepResult
		for !f.Done() {
			res = f.Step()
		}
		if !runtime.Equal(res.Value, runtime.IntegerValue{Val: 5}) {
			t.Fatalf("%s result = %v, want 5", name, res)
		}
	}
}
