package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ai/interpreter-go/pkg/driver"
	"ai/interpreter-go/pkg/transfer"
)

const testManifest = `name: cli
tick: 1ms
log_level: disabled
store:
  driver: sqlite
  dsn: programs.db
props:
  speed: {kind: float, initial: 1, settable: true}
callables:
  drive:
    syntax: ["forward *"]
    arity: 1
    ticks: 2
`

// project writes an ai.yml plus the given source files into a temp dir and
// returns the manifest path.
func project(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	manifest := filepath.Join(dir, "ai.yml")
	if err := os.WriteFile(manifest, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return manifest
}

func TestParseGlobalOptions(t *testing.T) {
	opts, rest, err := parseGlobalOptions([]string{"--manifest", "x/ai.yml", "--log-level=debug", "run", "main.ai"})
	if err != nil {
		t.Fatalf("parseGlobalOptions: %v", err)
	}
	if opts.manifestPath != "x/ai.yml" || opts.logLevel != "debug" {
		t.Fatalf("opts = %+v", opts)
	}
	if strings.Join(rest, " ") != "run main.ai" {
		t.Fatalf("rest = %q", rest)
	}
	if _, _, err := parseGlobalOptions([]string{"--manifest"}); err == nil {
		t.Fatalf("missing --manifest value accepted")
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := captureCLI(t, []string{"version"})
	if code != 0 || strings.TrimSpace(stdout) != cliToolVersion {
		t.Fatalf("version = %d %q", code, stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := captureCLI(t, []string{"launch"})
	if code != 1 || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("launch = %d %q", code, stderr)
	}
}

func TestRunPrintsOutputAndResult(t *testing.T) {
	manifest := project(t, map[string]string{
		"main.ai": "use $speed;\n$speed = 3.5;\ndrive forward $speed;\nprint 'speed' $speed;\nreturn 6 * 7;\n",
	})
	main := filepath.Join(filepath.Dir(manifest), "main.ai")
	code, stdout, stderr := captureCLI(t, []string{"--manifest", manifest, "run", main})
	if code != 0 {
		t.Fatalf("aic run exited %d (stderr: %q)", code, stderr)
	}
	if stdout != "speed 3.5\n42\n" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunReportsFault(t *testing.T) {
	manifest := project(t, map[string]string{"bad.ai": "$x = 0;\nreturn 1 / $x;\n"})
	code, _, stderr := captureCLI(t, []string{"--manifest=" + manifest, "run", filepath.Join(filepath.Dir(manifest), "bad.ai")})
	if code != 1 || !strings.Contains(stderr, "division by zero") {
		t.Fatalf("aic run = %d, stderr %q", code, stderr)
	}
}

func TestRunReportsUnboundCallable(t *testing.T) {
	manifest := project(t, map[string]string{"main.ai": "fly 3;\n"})
	code, _, stderr := captureCLI(t, []string{"--manifest", manifest, "run", filepath.Join(filepath.Dir(manifest), "main.ai")})
	if code != 1 || !strings.Contains(stderr, "fly") {
		t.Fatalf("aic run = %d, stderr %q", code, stderr)
	}
}

func TestCheckResolvesAgainstManifest(t *testing.T) {
	manifest := project(t, map[string]string{
		"good.ai": "drive forward 1.0;\n",
		"bad.ai":  "steer left;\n",
	})
	dir := filepath.Dir(manifest)
	code, stdout, stderr := captureCLI(t, []string{"--manifest", manifest, "check", filepath.Join(dir, "good.ai"), filepath.Join(dir, "bad.ai")})
	if code != 1 {
		t.Fatalf("aic check exited %d, want 1", code)
	}
	if !strings.Contains(stdout, "ok ") || !strings.Contains(stdout, "good.ai") {
		t.Fatalf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "steer") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestBuildThenRunBinaryAndText(t *testing.T) {
	manifest := project(t, map[string]string{"main.ai": "return 2 ^ 3;\n"})
	dir := filepath.Dir(manifest)
	src := filepath.Join(dir, "main.ai")

	code, stdout, stderr := captureCLI(t, []string{"--manifest", manifest, "build", src})
	if code != 0 || !strings.Contains(stdout, "main.aib") {
		t.Fatalf("build = %d %q %q", code, stdout, stderr)
	}
	data, err := os.ReadFile(filepath.Join(dir, "main.aib"))
	if err != nil || !transfer.IsBinary(data) {
		t.Fatalf("main.aib not a binary program: %v", err)
	}

	textOut := filepath.Join(dir, "listing.yml")
	code, _, stderr = captureCLI(t, []string{"--manifest", manifest, "build", src, "--text", "-o", textOut})
	if code != 0 {
		t.Fatalf("build --text = %d %q", code, stderr)
	}

	for _, path := range []string{filepath.Join(dir, "main.aib"), textOut} {
		code, stdout, stderr := captureCLI(t, []string{"--manifest", manifest, "run", path})
		if code != 0 || stdout != "8\n" {
			t.Fatalf("run %s = %d %q (stderr %q)", path, code, stdout, stderr)
		}
	}
}

func TestInspectPrintsListing(t *testing.T) {
	manifest := project(t, map[string]string{"main.ai": "drive forward 2.0;\nreturn 1;\n"})
	src := filepath.Join(filepath.Dir(manifest), "main.ai")
	code, stdout, stderr := captureCLI(t, []string{"--manifest", manifest, "inspect", src})
	if code != 0 {
		t.Fatalf("inspect = %d %q", code, stderr)
	}
	for _, want := range []string{"source:    main.ai", "binding 0 callable drive", "[forward *]"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, stdout)
		}
	}
}

func TestStoreCommands(t *testing.T) {
	manifest := project(t, map[string]string{"main.ai": "return 5;\n"})
	dir := filepath.Dir(manifest)
	testChdir(t, dir)

	code, stdout, stderr := captureCLI(t, []string{"store", "put", "five", "main.ai"})
	if code != 0 || !strings.Contains(stdout, "stored five") {
		t.Fatalf("store put = %d %q %q", code, stdout, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "programs.db")); err != nil {
		t.Fatalf("store database not created next to manifest: %v", err)
	}

	code, stdout, _ = captureCLI(t, []string{"store", "list"})
	if code != 0 || !strings.Contains(stdout, "five") || !strings.Contains(stdout, "main.ai") {
		t.Fatalf("store list = %d %q", code, stdout)
	}

	code, _, stderr = captureCLI(t, []string{"store", "get", "five", "-o", "five.aib"})
	if code != 0 {
		t.Fatalf("store get = %d %q", code, stderr)
	}
	code, stdout, _ = captureCLI(t, []string{"run", "five.aib"})
	if code != 0 || stdout != "5\n" {
		t.Fatalf("run five.aib = %d %q", code, stdout)
	}

	if code, _, _ := captureCLI(t, []string{"store", "delete", "five"}); code != 0 {
		t.Fatalf("store delete = %d", code)
	}
	code, _, stderr = captureCLI(t, []string{"store", "get", "five"})
	if code != 1 || !strings.Contains(stderr, "no stored program") {
		t.Fatalf("store get after delete = %d %q", code, stderr)
	}
}

func TestReplEvaluatesAgainstEnvironment(t *testing.T) {
	manifest := project(t, nil)
	sess, err := openSession(globalOptions{manifestPath: manifest}, ".")
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	env, err := driver.NewEnvironment(sess.manifest, io.Discard, sess.logger)
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	r := &repl{sess: sess, env: env}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if got := r.eval(ctx, "use $speed; $speed = 9.0;"); got != "=> void" {
		t.Fatalf("assignment = %q", got)
	}
	if got := r.eval(ctx, "use $speed; return $speed * 2;"); got != "=> 18.0" {
		t.Fatalf("prop did not persist between inputs: %q", got)
	}
	if got := r.eval(ctx, "$x = ;"); !strings.Contains(got, "1:") {
		t.Fatalf("syntax error = %q", got)
	}
}

func TestIncompleteInput(t *testing.T) {
	cases := map[string]bool{
		"return 1;":         false,
		"if $x {":           true,
		"return 1":          true,
		"return );":         false,
		"while $x < 3 { a;": true,
	}
	for src, want := range cases {
		if got := incomplete(src); got != want {
			t.Fatalf("incomplete(%q) = %v, want %v", src, got, want)
		}
	}
}

func captureCLI(t *testing.T, args []string) (int, string, string) {
	t.Helper()

	stdout := os.Stdout
	stderr := os.Stderr

	rOut, wOut, err := os.Pipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	rErr, wErr, err := os.Pipe()
	if err != nil {
		t.Fatalf("stderr pipe: %v", err)
	}

	os.Stdout = wOut
	os.Stderr = wErr

	code := run(args)

	if err := wOut.Close(); err != nil {
		t.Fatalf("stdout close: %v", err)
	}
	if err := wErr.Close(); err != nil {
		t.Fatalf("stderr close: %v", err)
	}

	os.Stdout = stdout
	os.Stderr = stderr

	outBytes, err := io.ReadAll(rOut)
	if err != nil {
		t.Fatalf("stdout read: %v", err)
	}
	errBytes, err := io.ReadAll(rErr)
	if err != nil {
		t.Fatalf("stderr read: %v", err)
	}
	rOut.Close()
	rErr.Close()

	return code, string(outBytes), string(errBytes)
}

// testChdir changes the working directory for the duration of the test,
// standing in for testing.T.Chdir on toolchains older than Go 1.24.
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}
