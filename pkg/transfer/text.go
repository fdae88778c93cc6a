package transfer

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/runtime"
)

// TextFormat is the value of the format key in text programs.
const TextFormat = "ai-program"

// TextVersion is the text format version written by EncodeText.
const TextVersion = 1

type textProgram struct {
	Format    string         `yaml:"format"`
	Version   int            `yaml:"version"`
	Meta      textMeta       `yaml:"meta,omitempty"`
	Names     []string       `yaml:"names,omitempty"`
	Constants []textValue    `yaml:"constants,omitempty"`
	Bindings  []textBinding  `yaml:"bindings,omitempty"`
	Routines  []textRoutine  `yaml:"routines,omitempty"`
	Entry     int            `yaml:"entry"`
	Code      []textInstruct `yaml:"code"`
}

type textMeta struct {
	Source   string `yaml:"source,omitempty"`
	Revision string `yaml:"revision,omitempty"`
	Checksum string `yaml:"checksum,omitempty"`
}

type textValue struct {
	Kind  string      `yaml:"kind"`
	Value string      `yaml:"value,omitempty"`
	Items []textValue `yaml:"items,omitempty"`
}

type textBinding struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"`
	Shapes []string `yaml:"shapes,omitempty,flow"`
	Writes bool     `yaml:"writes,omitempty"`
}

type textRoutine struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Params   []int  `yaml:"params,omitempty,flow"`
	Entry    int    `yaml:"entry,omitempty"`
	Branches []int  `yaml:"branches,omitempty,flow"`
}

type textInstruct struct {
	Op    string `yaml:"op"`
	Arg   int    `yaml:"arg,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// EncodeText renders prog as a YAML document.
func EncodeText(prog *bytecode.Program) ([]byte, error) {
	if prog == nil {
		return nil, fmt.Errorf("transfer: nil program")
	}
	doc := textProgram{
		Format:  TextFormat,
		Version: TextVersion,
		Meta:    textMeta(prog.Meta),
		Names:   prog.Names,
		Entry:   prog.Entry,
		Code:    make([]textInstruct, len(prog.Code)),
	}
	for _, c := range prog.Constants {
		tv, err := toTextValue(c)
		if err != nil {
			return nil, err
		}
		doc.Constants = append(doc.Constants, tv)
	}
	for _, b := range prog.Bindings {
		doc.Bindings = append(doc.Bindings, textBinding{Name: b.Name, Kind: b.Kind.String(), Shapes: b.Shapes, Writes: b.Writes})
	}
	for _, r := range prog.Routines {
		doc.Routines = append(doc.Routines, textRoutine{Name: r.Name, Kind: r.Kind.String(), Params: r.Params, Entry: r.Entry, Branches: r.Branches})
	}
	for i, ins := range prog.Code {
		doc.Code[i] = textInstruct{Op: ins.Op.String(), Arg: ins.Arg, Count: ins.Count}
	}

	node, err := codeFlow(doc)
	if err != nil {
		return nil, fmt.Errorf("transfer: marshal text program: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("transfer: marshal text program: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("transfer: encoder close: %w", err)
	}
	return buf.Bytes(), nil
}

// codeFlow renders each instruction on one line.
func codeFlow(doc textProgram) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(doc); err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "code" {
			for _, ins := range node.Content[i+1].Content {
				ins.Style = yaml.FlowStyle
			}
		}
	}
	return &node, nil
}

// DecodeText parses and validates a YAML program. Unknown keys are rejected.
// Every failure is a LoadError.
func DecodeText(data []byte) (*bytecode.Program, error) {
	var doc textProgram
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, runtime.NewError(runtime.LoadError, "empty text program")
		}
		return nil, runtime.WrapError(runtime.LoadError, err, "parse text program")
	}
	prog, err := doc.toProgram()
	if err != nil {
		return nil, runtime.AsError(err, runtime.LoadError)
	}
	if err := prog.Validate(); err != nil {
		return nil, runtime.AsError(err, runtime.LoadError)
	}
	return prog, nil
}

func (doc *textProgram) toProgram() (*bytecode.Program, error) {
	if doc.Format != TextFormat {
		return nil, runtime.NewError(runtime.LoadError, "format %q is not %s", doc.Format, TextFormat)
	}
	if doc.Version != TextVersion {
		return nil, runtime.NewError(runtime.LoadError, "unsupported text version %d (want %d)", doc.Version, TextVersion)
	}
	prog := &bytecode.Program{
		Meta: bytecode.Meta{
			Source:   strings.TrimSpace(doc.Meta.Source),
			Revision: strings.TrimSpace(doc.Meta.Revision),
			Checksum: strings.TrimSpace(doc.Meta.Checksum),
		},
		Names: doc.Names,
		Entry: doc.Entry,
	}
	for i, tv := range doc.Constants {
		v, err := tv.toValue(0)
		if err != nil {
			return nil, runtime.WrapError(runtime.LoadError, err, "constant %d", i)
		}
		prog.Constants = append(prog.Constants, v)
	}
	for _, b := range doc.Bindings {
		decl := bytecode.BindingDecl{Name: strings.TrimSpace(b.Name), Shapes: b.Shapes, Writes: b.Writes}
		switch strings.TrimSpace(b.Kind) {
		case "callable":
			decl.Kind = bytecode.BindCallable
		case "prop":
			decl.Kind = bytecode.BindProp
		default:
			return nil, runtime.NewError(runtime.LoadError, "binding %q: unknown kind %q", b.Name, b.Kind)
		}
		prog.Bindings = append(prog.Bindings, decl)
	}
	for _, r := range doc.Routines {
		rt := bytecode.Routine{Name: strings.TrimSpace(r.Name), Params: r.Params, Entry: r.Entry, Branches: r.Branches}
		switch strings.TrimSpace(r.Kind) {
		case "sequence":
			rt.Kind = bytecode.RoutineSequence
		case "parallel":
			rt.Kind = bytecode.RoutineParallel
		case "race":
			rt.Kind = bytecode.RoutineRace
		default:
			return nil, runtime.NewError(runtime.LoadError, "routine %q: unknown kind %q", r.Name, r.Kind)
		}
		prog.Routines = append(prog.Routines, rt)
	}
	for i, ins := range doc.Code {
		op, err := bytecode.ParseOp(ins.Op)
		if err != nil {
			return nil, runtime.WrapError(runtime.LoadError, err, "instruction %d", i)
		}
		prog.Code = append(prog.Code, bytecode.Instruction{Op: op, Arg: ins.Arg, Count: ins.Count})
	}
	return prog, nil
}

func toTextValue(v runtime.Value) (textValue, error) {
	switch val := v.(type) {
	case runtime.VoidValue:
		return textValue{Kind: "void"}, nil
	case runtime.BoolValue:
		return textValue{Kind: "bool", Value: strconv.FormatBool(val.Val)}, nil
	case runtime.IntegerValue:
		return textValue{Kind: "integer", Value: strconv.FormatInt(val.Val, 10)}, nil
	case runtime.FloatValue:
		return textValue{Kind: "float", Value: formatFloat(val.Val)}, nil
	case runtime.StringValue:
		return textValue{Kind: "string", Value: val.Val}, nil
	case runtime.ListValue:
		out := textValue{Kind: "list"}
		for _, el := range val.Elements {
			item, err := toTextValue(el)
			if err != nil {
				return textValue{}, err
			}
			out.Items = append(out.Items, item)
		}
		return out, nil
	}
	return textValue{}, fmt.Errorf("transfer: cannot encode %T", v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (tv textValue) toValue(depth int) (runtime.Value, error) {
	if depth > maxValueDepth {
		return nil, fmt.Errorf("constant nested deeper than %d", maxValueDepth)
	}
	kind, err := runtime.ParseKind(tv.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case runtime.KindVoid:
		return runtime.Void, nil
	case runtime.KindBool:
		b, err := strconv.ParseBool(tv.Value)
		if err != nil {
			return nil, fmt.Errorf("bool %q: %w", tv.Value, err)
		}
		return runtime.BoolValue{Val: b}, nil
	case runtime.KindInteger:
		n, err := strconv.ParseInt(tv.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("integer %q: %w", tv.Value, err)
		}
		return runtime.IntegerValue{Val: n}, nil
	case runtime.KindFloat:
		f, err := strconv.ParseFloat(tv.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("float %q: %w", tv.Value, err)
		}
		return runtime.FloatValue{Val: f}, nil
	case runtime.KindString:
		return runtime.StringValue{Val: tv.Value}, nil
	case runtime.KindList:
		elems := make([]runtime.Value, 0, len(tv.Items))
		for _, item := range tv.Items {
			v, err := item.toValue(depth + 1)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return runtime.ListValue{Elements: elems}, nil
	}
	return nil, fmt.Errorf("constant kind %q has no values", tv.Kind)
}
