package transfer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"strings"
	"testing"

	"ai/interpreter-go/pkg/binding"
	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/compiler"
	"ai/interpreter-go/pkg/interpreter"
	"ai/interpreter-go/pkg/runtime"
)

const sample = `
use $speed;
parallel group both $n {
	return $n * 2;
	return [$n, 'two', 2.5, -7];
}
race group first {
	while true { yield; }
	return 'fast';
}
$speed = 3;
log forward $speed;
$pair = both 4;
return [$pair, first, $speed ^ 2, 1.5e3, true, void];
`

func compileSample(t *testing.T) *bytecode.Program {
	t.Helper()
	prog, err := compiler.CompileSource(sample, compiler.Options{LoopYield: true, Source: "sample.ai"})
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	return prog
}

// trace runs prog to completion and renders every step result.
func trace(t *testing.T, prog *bytecode.Program) []string {
	t.Helper()
	table := binding.NewTable()
	if err := table.RegisterFunc("log", func([]runtime.Value) (runtime.Value, error) { return nil, nil },
		binding.Signature{Syntax: []string{"forward *"}, Arity: 1}); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	if err := table.RegisterProp("speed", binding.NewCell(runtime.IntegerValue{}), runtime.KindInteger); err != nil {
		t.Fatalf("RegisterProp: %v", err)
	}
	exe, err := interpreter.Load(prog, table)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := exe.Start()
	var out []string
	for i := 0; i < 10_000; i++ {
		r := f.Step()
		out = append(out, r.String())
		if r.Kind.Terminal() {
			return out
		}
	}
	t.Fatalf("program did not finish")
	return nil
}

func sameTrace(t *testing.T, want, got []string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("trace length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("step %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func disasm(t *testing.T, prog *bytecode.Program) string {
	t.Helper()
	var buf bytes.Buffer
	if err := bytecode.Disassemble(&buf, prog); err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	return buf.String()
}

func TestBinaryRoundTripStepsIdentically(t *testing.T) {
	prog := compileSample(t)
	data, err := Encode(prog)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !IsBinary(data) {
		t.Fatalf("encoded program lacks magic")
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Meta != prog.Meta {
		t.Fatalf("Meta = %+v, want %+v", decoded.Meta, prog.Meta)
	}
	if got, want := disasm(t, decoded), disasm(t, prog); got != want {
		t.Fatalf("disassembly differs:\n%s\nwant:\n%s", got, want)
	}
	sameTrace(t, trace(t, prog), trace(t, decoded))

	again, err := Encode(decoded)
	if err != nil || !bytes.Equal(again, data) {
		t.Fatalf("re-encoding differs (err %v)", err)
	}
}

func TestTextRoundTripStepsIdentically(t *testing.T) {
	prog := compileSample(t)
	text, err := EncodeText(prog)
	if err != nil {
		t.Fatalf("EncodeText: %v", err)
	}
	doc := string(text)
	for _, want := range []string{"format: ai-program", "version: 1", "source: sample.ai", "{op: group"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("text program missing %q:\n%s", want, doc)
		}
	}
	decoded, err := DecodeText(text)
	if err != nil {
		t.Fatalf("DecodeText: %v", err)
	}
	if got, want := disasm(t, decoded), disasm(t, prog); got != want {
		t.Fatalf("disassembly differs:\n%s\nwant:\n%s", got, want)
	}
	sameTrace(t, trace(t, prog), trace(t, decoded))
}

// reseal recomputes the CRC trailer after a test edits the body.
func reseal(data []byte) []byte {
	body := data[:len(data)-4]
	return binary.BigEndian.AppendUint32(append([]byte(nil), body...), crc32.ChecksumIEEE(body))
}

func TestDecodeRejectsDamagedInput(t *testing.T) {
	good, err := Encode(compileSample(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	badOp := &bytecode.Program{Code: []bytecode.Instruction{{Op: bytecode.Op(200)}, {Op: bytecode.OpReturn}}}
	badTarget := &bytecode.Program{Code: []bytecode.Instruction{{Op: bytecode.OpJump, Arg: 9}}}
	underflow := &bytecode.Program{Code: []bytecode.Instruction{{Op: bytecode.OpAdd}, {Op: bytecode.OpReturn}}}
	encode := func(p *bytecode.Program) []byte {
		data, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		return data
	}

	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "truncated"},
		{"bad magic", append([]byte("ABCD"), good[4:]...), "bad magic"},
		{"version", reseal(append(append([]byte(nil), good[:4]...), append([]byte{0, 9}, good[6:]...)...)), "version 9"},
		{"checksum", append(append([]byte(nil), good[:len(good)-1]...), good[len(good)-1]^0xff), "checksum"},
		{"truncated", reseal(append(append([]byte(nil), good[:len(good)/2]...), 0, 0, 0, 0)), "truncated"},
		{"unknown opcode", encode(badOp), "unknown opcode 200"},
		{"bad jump target", encode(badTarget), "target"},
		{"stack underflow", encode(underflow), "add needs 2 operands"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog, err := Decode(tc.data)
			if prog != nil || !errors.Is(err, runtime.ErrLoad) {
				t.Fatalf("Decode = %v, %v, want LoadError", prog, err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestDecodeTextRejectsMalformedDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty"},
		{"wrong format", "format: other\nversion: 1\nentry: 0\ncode: [{op: return}]\n", "not ai-program"},
		{"wrong version", "format: ai-program\nversion: 2\nentry: 0\ncode: [{op: return}]\n", "version 2"},
		{"unknown key", "format: ai-program\nversion: 1\nentry: 0\nextra: 1\ncode: [{op: return}]\n", "extra"},
		{"unknown op", "format: ai-program\nversion: 1\nentry: 0\ncode: [{op: teleport}]\n", "teleport"},
		{"bad constant", "format: ai-program\nversion: 1\nconstants: [{kind: integer, value: x}]\nentry: 0\ncode: [{op: return}]\n", "constant 0"},
		{"invalid program", "format: ai-program\nversion: 1\nentry: 0\ncode: [{op: const, arg: 3}, {op: return}]\n", "constant"},
		{"stack underflow", "format: ai-program\nversion: 1\nentry: 0\ncode: [{op: add}, {op: return}]\n", "add needs 2 operands"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog, err := DecodeText([]byte(tc.doc))
			if prog != nil || !errors.Is(err, runtime.ErrLoad) {
				t.Fatalf("DecodeText = %v, %v, want LoadError", prog, err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
