// Package driver connects compiled programs to a host described by an ai.yml
// manifest: the simulated environment, limits, logging and storage settings.
package driver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ai/interpreter-go/pkg/interpreter"
	"ai/interpreter-go/pkg/runtime"
)

// ManifestName is the file FindManifest looks for.
const ManifestName = "ai.yml"

// DefaultTick is the scheduling interval used when the manifest sets none.
const DefaultTick = 100 * time.Millisecond

// ErrManifestNotFound is returned by FindManifest when no ai.yml exists in
// start or any of its parents.
var ErrManifestNotFound = errors.New("ai.yml not found")

// Manifest represents the parsed contents of ai.yml.
type Manifest struct {
	Path      string
	Name      string
	Entry     string
	Tick      time.Duration
	LogLevel  string
	Limits    interpreter.Limits
	Store     StoreConfig
	Props     []*PropSpec
	Callables []*CallableSpec
}

// StoreConfig selects the program store database.
type StoreConfig struct {
	Driver string
	DSN    string
}

// PropSpec declares a simulated prop.
type PropSpec struct {
	Name     string
	Kind     runtime.Kind
	Initial  runtime.Value
	Settable bool
}

// CallableSpec declares a simulated callable. A callable with Ticks > 0 is a
// task that completes after that many scheduler ticks.
type CallableSpec struct {
	Name     string
	Syntax   []string
	Arity    int
	Variadic bool
	Args     []runtime.Kind
	Returns  runtime.Kind
	Ticks    int
	Result   runtime.Value
}

// ValidationError aggregates manifest validation failures.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "manifest: invalid configuration"
	}
	var b strings.Builder
	b.WriteString("manifest validation failed:")
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return b.String()
}

// NewManifest returns a manifest with defaults for name.
func NewManifest(name string) *Manifest {
	return &Manifest{
		Name:     strings.TrimSpace(name),
		Entry:    "main.ai",
		Tick:     DefaultTick,
		LogLevel: "info",
		Limits:   interpreter.DefaultLimits(),
		Store:    StoreConfig{Driver: "sqlite", DSN: "programs.db"},
	}
}

// LoadManifest parses ai.yml from disk, returning a validated manifest.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return nil, fmt.Errorf("manifest: empty path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: resolve %s: %w", path, err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", absPath, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	var raw manifestFile
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest: %s is empty", absPath)
		}
		return nil, fmt.Errorf("manifest: parse %s: %w", absPath, err)
	}

	manifest, issues := raw.toManifest(absPath)
	issues = append(issues, manifest.validate()...)
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return manifest, nil
}

// WriteManifest serialises the manifest back to disk.
func WriteManifest(m *Manifest, path string) error {
	if m == nil {
		return fmt.Errorf("manifest: nil manifest")
	}
	if path == "" {
		if m.Path == "" {
			return fmt.Errorf("manifest: missing path")
		}
		path = m.Path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("manifest: resolve %s: %w", path, err)
	}
	m.Path = abs
	m.normalize()
	if issues := m.validate(); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m.toDisk()); err != nil {
		return fmt.Errorf("manifest: marshal %s: %w", abs, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("manifest: encoder close: %w", err)
	}
	if err := os.WriteFile(abs, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", abs, err)
	}
	return nil
}

// FindManifest walks up from start looking for ai.yml.
func FindManifest(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("manifest: resolve %s: %w", start, err)
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	for {
		candidate := filepath.Join(dir, ManifestName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("manifest: %w above %s", ErrManifestNotFound, start)
		}
		dir = parent
	}
}

// Dir is the directory holding the manifest.
func (m *Manifest) Dir() string {
	if m.Path == "" {
		return "."
	}
	return filepath.Dir(m.Path)
}

// EntryPath resolves the entry source relative to the manifest.
func (m *Manifest) EntryPath() string {
	if m.Entry == "" || filepath.IsAbs(m.Entry) {
		return m.Entry
	}
	return filepath.Join(m.Dir(), m.Entry)
}

func (m *Manifest) normalize() {
	m.Name = strings.TrimSpace(m.Name)
	m.Entry = strings.TrimSpace(m.Entry)
	m.LogLevel = strings.ToLower(strings.TrimSpace(m.LogLevel))
	m.Store.Driver = strings.ToLower(strings.TrimSpace(m.Store.Driver))
	m.Store.DSN = strings.TrimSpace(m.Store.DSN)
	if m.Tick <= 0 {
		m.Tick = DefaultTick
	}
	sort.SliceStable(m.Props, func(i, j int) bool { return m.Props[i].Name < m.Props[j].Name })
	sort.SliceStable(m.Callables, func(i, j int) bool { return m.Callables[i].Name < m.Callables[j].Name })
	for _, c := range m.Callables {
		for i := range c.Syntax {
			c.Syntax[i] = strings.Join(strings.Fields(c.Syntax[i]), " ")
		}
	}
}

func (m *Manifest) validate() []string {
	var issues []string
	if m.Name == "" {
		issues = append(issues, "name must be provided")
	}
	switch m.LogLevel {
	case "", "trace", "debug", "info", "warn", "error", "disabled":
	default:
		issues = append(issues, fmt.Sprintf("log_level %q is not one of trace, debug, info, warn, error, disabled", m.LogLevel))
	}
	switch m.Store.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		issues = append(issues, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, mysql", m.Store.Driver))
	}
	seen := make(map[string]string)
	claim := func(name, what string) {
		if other, ok := seen[name]; ok {
			issues = append(issues, fmt.Sprintf("%s %q is also declared as a %s", what, name, other))
			return
		}
		seen[name] = what
	}
	for _, name := range builtinNames {
		seen[name] = "builtin"
	}
	for _, p := range m.Props {
		claim(p.Name, "prop")
		if p.Initial != nil && !p.Kind.Accepts(p.Initial.Kind()) {
			issues = append(issues, fmt.Sprintf("props.%s: initial %s value does not match kind %s", p.Name, p.Initial.Kind(), p.Kind))
		}
	}
	for _, c := range m.Callables {
		claim(c.Name, "callable")
		if c.Arity < 0 || c.Ticks < 0 {
			issues = append(issues, fmt.Sprintf("callables.%s: arity and ticks must not be negative", c.Name))
		}
		if len(c.Args) > c.Arity && !c.Variadic {
			issues = append(issues, fmt.Sprintf("callables.%s: %d argument kinds for arity %d", c.Name, len(c.Args), c.Arity))
		}
		if c.Result != nil && c.Returns != runtime.KindVoid && !c.Returns.Accepts(c.Result.Kind()) {
			issues = append(issues, fmt.Sprintf("callables.%s: result %s value does not match returns %s", c.Name, c.Result.Kind(), c.Returns))
		}
	}
	return issues
}

//-----------------------------------------------------------------------------
// Disk form
//-----------------------------------------------------------------------------

type manifestFile struct {
	Name      string                  `yaml:"name"`
	Entry     string                  `yaml:"entry,omitempty"`
	Tick      string                  `yaml:"tick,omitempty"`
	LogLevel  string                  `yaml:"log_level,omitempty"`
	Limits    *limitsFile             `yaml:"limits,omitempty"`
	Store     *storeFile              `yaml:"store,omitempty"`
	Props     map[string]propFile     `yaml:"props,omitempty"`
	Callables map[string]callableFile `yaml:"callables,omitempty"`
}

// limitsFile uses pointers so an explicit 0 (no limit) differs from unset.
type limitsFile struct {
	MaxStack       *int `yaml:"max_stack,omitempty"`
	MaxCallDepth   *int `yaml:"max_call_depth,omitempty"`
	MaxGroupDepth  *int `yaml:"max_group_depth,omitempty"`
	MaxGroupRounds *int `yaml:"max_group_rounds,omitempty"`
}

type storeFile struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

type propFile struct {
	Kind     string `yaml:"kind,omitempty"`
	Initial  any    `yaml:"initial,omitempty"`
	Settable bool   `yaml:"settable,omitempty"`
}

type callableFile struct {
	Syntax   []string `yaml:"syntax,omitempty,flow"`
	Arity    int      `yaml:"arity,omitempty"`
	Variadic bool     `yaml:"variadic,omitempty"`
	Args     []string `yaml:"args,omitempty,flow"`
	Returns  string   `yaml:"returns,omitempty"`
	Ticks    int      `yaml:"ticks,omitempty"`
	Result   any      `yaml:"result,omitempty"`
}

func (raw manifestFile) toManifest(path string) (*Manifest, []string) {
	m := NewManifest(raw.Name)
	m.Path = path
	var issues []string
	if raw.Entry != "" {
		m.Entry = raw.Entry
	}
	if raw.Tick != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Tick))
		if err != nil || d <= 0 {
			issues = append(issues, fmt.Sprintf("tick %q must be a positive duration such as 100ms", raw.Tick))
		} else {
			m.Tick = d
		}
	}
	if raw.LogLevel != "" {
		m.LogLevel = raw.LogLevel
	}
	if l := raw.Limits; l != nil {
		for _, f := range []struct {
			name string
			src  *int
			dst  *int
		}{
			{"max_stack", l.MaxStack, &m.Limits.MaxStack},
			{"max_call_depth", l.MaxCallDepth, &m.Limits.MaxCallDepth},
			{"max_group_depth", l.MaxGroupDepth, &m.Limits.MaxGroupDepth},
			{"max_group_rounds", l.MaxGroupRounds, &m.Limits.MaxGroupRounds},
		} {
			if f.src == nil {
				continue
			}
			if *f.src < 0 {
				issues = append(issues, fmt.Sprintf("limits.%s must not be negative", f.name))
				continue
			}
			*f.dst = *f.src
		}
	}
	if raw.Store != nil {
		if raw.Store.Driver != "" {
			m.Store.Driver = raw.Store.Driver
		}
		if raw.Store.DSN != "" {
			m.Store.DSN = raw.Store.DSN
		}
	}
	for name, p := range raw.Props {
		spec := &PropSpec{Name: strings.TrimSpace(name), Settable: p.Settable}
		kind, err := runtime.ParseKind(p.Kind)
		if err != nil {
			issues = append(issues, fmt.Sprintf("props.%s: %v", name, err))
		}
		spec.Kind = kind
		if spec.Initial, err = manifestValue(p.Initial, kind); err != nil {
			issues = append(issues, fmt.Sprintf("props.%s.initial: %v", name, err))
		}
		m.Props = append(m.Props, spec)
	}
	for name, c := range raw.Callables {
		spec := &CallableSpec{
			Name:     strings.TrimSpace(name),
			Syntax:   append([]string(nil), c.Syntax...),
			Arity:    c.Arity,
			Variadic: c.Variadic,
			Ticks:    c.Ticks,
		}
		for i, a := range c.Args {
			kind, err := runtime.ParseKind(a)
			if err != nil {
				issues = append(issues, fmt.Sprintf("callables.%s.args[%d]: %v", name, i, err))
			}
			spec.Args = append(spec.Args, kind)
		}
		returns := c.Returns
		if returns == "" {
			returns = "void"
		}
		kind, err := runtime.ParseKind(returns)
		if err != nil {
			issues = append(issues, fmt.Sprintf("callables.%s.returns: %v", name, err))
		}
		spec.Returns = kind
		if c.Result != nil {
			if spec.Result, err = manifestValue(c.Result, kind); err != nil {
				issues = append(issues, fmt.Sprintf("callables.%s.result: %v", name, err))
			}
		}
		m.Callables = append(m.Callables, spec)
	}
	m.normalize()
	return m, issues
}

func (m *Manifest) toDisk() manifestFile {
	out := manifestFile{
		Name:     m.Name,
		Entry:    m.Entry,
		Tick:     m.Tick.String(),
		LogLevel: m.LogLevel,
		Limits: &limitsFile{
			MaxStack:       intPtr(m.Limits.MaxStack),
			MaxCallDepth:   intPtr(m.Limits.MaxCallDepth),
			MaxGroupDepth:  intPtr(m.Limits.MaxGroupDepth),
			MaxGroupRounds: intPtr(m.Limits.MaxGroupRounds),
		},
		Store: &storeFile{Driver: m.Store.Driver, DSN: m.Store.DSN},
	}
	if len(m.Props) > 0 {
		out.Props = make(map[string]propFile, len(m.Props))
		for _, p := range m.Props {
			out.Props[p.Name] = propFile{Kind: p.Kind.String(), Initial: goValue(p.Initial), Settable: p.Settable}
		}
	}
	if len(m.Callables) > 0 {
		out.Callables = make(map[string]callableFile, len(m.Callables))
		for _, c := range m.Callables {
			cf := callableFile{
				Syntax:   c.Syntax,
				Arity:    c.Arity,
				Variadic: c.Variadic,
				Ticks:    c.Ticks,
				Result:   goValue(c.Result),
			}
			if c.Returns != runtime.KindVoid {
				cf.Returns = c.Returns.String()
			}
			for _, a := range c.Args {
				cf.Args = append(cf.Args, a.String())
			}
			out.Callables[c.Name] = cf
		}
	}
	return out
}

func intPtr(v int) *int { return &v }

// manifestValue converts a decoded YAML scalar or sequence to a runtime value
// of the declared kind.
func manifestValue(raw any, kind runtime.Kind) (runtime.Value, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := runtime.FromGo(raw)
	if err != nil {
		return nil, err
	}
	return runtime.Coerce(v, kind)
}

func goValue(v runtime.Value) any {
	switch val := v.(type) {
	case nil, runtime.VoidValue:
		return nil
	case runtime.BoolValue:
		return val.Val
	case runtime.IntegerValue:
		return val.Val
	case runtime.FloatValue:
		return val.Val
	case runtime.StringValue:
		return val.Val
	case runtime.ListValue:
		out := make([]any, len(val.Elements))
		for i, el := range val.Elements {
			out[i] = goValue(el)
		}
		return out
	}
	return nil
}
