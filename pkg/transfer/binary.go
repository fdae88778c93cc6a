// Package transfer serialises compiled programs so they can be stored or
// shipped to another host. Two encodings are provided: a compact binary form
// and a YAML text form meant for inspection and hand editing. Both decoders
// validate the program before returning it.
package transfer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/runtime"
)

// Magic opens every binary program.
const Magic = "AIBC"

// Version is the binary format version written by Encode.
const Version uint16 = 1

const (
	tagVoid byte = iota
	tagBool
	tagInteger
	tagFloat
	tagString
	tagList
)

// sections are written in this order.
const (
	sectionMeta = iota
	sectionNames
	sectionConstants
	sectionBindings
	sectionRoutines
	sectionCode
	sectionEntry
	sectionCount
)

var sectionLabels = [sectionCount]string{"meta", "names", "constants", "bindings", "routines", "code", "entry"}

// Encode returns the binary form of prog.
func Encode(prog *bytecode.Program) ([]byte, error) {
	if prog == nil {
		return nil, fmt.Errorf("transfer: nil program")
	}
	var out bytes.Buffer
	out.WriteString(Magic)
	out.Write(binary.BigEndian.AppendUint16(nil, Version))

	for i := 0; i < sectionCount; i++ {
		var w writer
		switch i {
		case sectionMeta:
			w.str(prog.Meta.Source)
			w.str(prog.Meta.Revision)
			w.str(prog.Meta.Checksum)
		case sectionNames:
			w.uvarint(uint64(len(prog.Names)))
			for _, n := range prog.Names {
				w.str(n)
			}
		case sectionConstants:
			w.uvarint(uint64(len(prog.Constants)))
			for _, c := range prog.Constants {
				if err := w.value(c); err != nil {
					return nil, err
				}
			}
		case sectionBindings:
			w.uvarint(uint64(len(prog.Bindings)))
			for _, b := range prog.Bindings {
				w.str(b.Name)
				w.u8(byte(b.Kind))
				w.strs(b.Shapes)
				w.flag(b.Writes)
			}
		case sectionRoutines:
			w.uvarint(uint64(len(prog.Routines)))
			for _, r := range prog.Routines {
				w.str(r.Name)
				w.u8(byte(r.Kind))
				w.ints(r.Params)
				w.varint(int64(r.Entry))
				w.ints(r.Branches)
			}
		case sectionCode:
			w.uvarint(uint64(len(prog.Code)))
			for _, ins := range prog.Code {
				w.u8(byte(ins.Op))
				w.varint(int64(ins.Arg))
				w.varint(int64(ins.Count))
			}
		case sectionEntry:
			w.varint(int64(prog.Entry))
		}
		out.Write(binary.AppendUvarint(nil, uint64(len(w.buf))))
		out.Write(w.buf)
	}
	out.Write(binary.BigEndian.AppendUint32(nil, crc32.ChecksumIEEE(out.Bytes())))
	return out.Bytes(), nil
}

// Write encodes prog to w.
func Write(w io.Writer, prog *bytecode.Program) error {
	data, err := Encode(prog)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode parses and validates a binary program. Every failure is a
// LoadError.
func Decode(data []byte) (*bytecode.Program, error) {
	prog, err := decode(data)
	if err != nil {
		return nil, runtime.AsError(err, runtime.LoadError)
	}
	if err := prog.Validate(); err != nil {
		return nil, runtime.AsError(err, runtime.LoadError)
	}
	return prog, nil
}

// Read decodes a binary program from r.
func Read(r io.Reader) (*bytecode.Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, runtime.WrapError(runtime.LoadError, err, "read program")
	}
	return Decode(data)
}

// IsBinary reports whether data starts with the binary magic.
func IsBinary(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

func decode(data []byte) (*bytecode.Program, error) {
	header := len(Magic) + 2
	if len(data) < header+4 {
		return nil, runtime.NewError(runtime.LoadError, "program truncated: %d bytes", len(data))
	}
	if !IsBinary(data) {
		return nil, runtime.NewError(runtime.LoadError, "bad magic %q", data[:len(Magic)])
	}
	if v := binary.BigEndian.Uint16(data[len(Magic):header]); v != Version {
		return nil, runtime.NewError(runtime.LoadError, "unsupported format version %d (want %d)", v, Version)
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if want, got := binary.BigEndian.Uint32(trailer), crc32.ChecksumIEEE(body); want != got {
		return nil, runtime.NewError(runtime.LoadError, "checksum mismatch: stored %08x, computed %08x", want, got)
	}

	prog := &bytecode.Program{}
	rest := body[header:]
	for i := 0; i < sectionCount; i++ {
		size, n := binary.Uvarint(rest)
		if n <= 0 || size > uint64(len(rest)-n) {
			return nil, runtime.NewError(runtime.LoadError, "section %s truncated", sectionLabels[i])
		}
		r := &reader{buf: rest[n : n+int(size)]}
		rest = rest[n+int(size):]
		decodeSection(i, r, prog)
		if r.err == nil && len(r.buf) > 0 {
			r.err = fmt.Errorf("%d trailing bytes", len(r.buf))
		}
		if r.err != nil {
			return nil, runtime.WrapError(runtime.LoadError, r.err, "section %s", sectionLabels[i])
		}
	}
	if len(rest) > 0 {
		return nil, runtime.NewError(runtime.LoadError, "%d bytes after last section", len(rest))
	}
	return prog, nil
}

func decodeSection(i int, r *reader, prog *bytecode.Program) {
	switch i {
	case sectionMeta:
		prog.Meta.Source = r.str()
		prog.Meta.Revision = r.str()
		prog.Meta.Checksum = r.str()
	case sectionNames:
		n := r.count()
		prog.Names = make([]string, 0, n)
		for j := 0; j < n && r.err == nil; j++ {
			prog.Names = append(prog.Names, r.str())
		}
	case sectionConstants:
		n := r.count()
		prog.Constants = make([]runtime.Value, 0, n)
		for j := 0; j < n && r.err == nil; j++ {
			prog.Constants = append(prog.Constants, r.value(0))
		}
	case sectionBindings:
		n := r.count()
		prog.Bindings = make([]bytecode.BindingDecl, 0, n)
		for j := 0; j < n && r.err == nil; j++ {
			var b bytecode.BindingDecl
			b.Name = r.str()
			kind := r.u8()
			if kind > byte(bytecode.BindProp) && r.err == nil {
				r.err = fmt.Errorf("binding %q: unknown kind %d", b.Name, kind)
			}
			b.Kind = bytecode.BindingKind(kind)
			b.Shapes = r.strs()
			b.Writes = r.flag()
			prog.Bindings = append(prog.Bindings, b)
		}
	case sectionRoutines:
		n := r.count()
		prog.Routines = make([]bytecode.Routine, 0, n)
		for j := 0; j < n && r.err == nil; j++ {
			var rt bytecode.Routine
			rt.Name = r.str()
			kind := r.u8()
			if kind > byte(bytecode.RoutineRace) && r.err == nil {
				r.err = fmt.Errorf("routine %q: unknown kind %d", rt.Name, kind)
			}
			rt.Kind = bytecode.RoutineKind(kind)
			rt.Params = r.ints()
			rt.Entry = r.num()
			rt.Branches = r.ints()
			prog.Routines = append(prog.Routines, rt)
		}
	case sectionCode:
		n := r.count()
		prog.Code = make([]bytecode.Instruction, 0, n)
		for j := 0; j < n && r.err == nil; j++ {
			op := bytecode.Op(r.u8())
			if !op.Valid() && r.err == nil {
				r.err = fmt.Errorf("instruction %d: unknown opcode %d", j, byte(op))
			}
			prog.Code = append(prog.Code, bytecode.Instruction{Op: op, Arg: r.num(), Count: r.num()})
		}
	case sectionEntry:
		prog.Entry = r.num()
	}
}

//-----------------------------------------------------------------------------
// Primitive codecs
//-----------------------------------------------------------------------------

type writer struct {
	buf []byte
}

func (w *writer) u8(b byte)        { w.buf = append(w.buf, b) }
func (w *writer) uvarint(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }
func (w *writer) varint(v int64)   { w.buf = binary.AppendVarint(w.buf, v) }

func (w *writer) str(s string) {
	w.uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) flag(b bool) {
	if b {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) strs(ss []string) {
	w.uvarint(uint64(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

func (w *writer) ints(vs []int) {
	w.uvarint(uint64(len(vs)))
	for _, v := range vs {
		w.varint(int64(v))
	}
}

func (w *writer) value(v runtime.Value) error {
	switch val := v.(type) {
	case runtime.VoidValue:
		w.u8(tagVoid)
	case runtime.BoolValue:
		w.u8(tagBool)
		w.flag(val.Val)
	case runtime.IntegerValue:
		w.u8(tagInteger)
		w.varint(val.Val)
	case runtime.FloatValue:
		w.u8(tagFloat)
		w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(val.Val))
	case runtime.StringValue:
		w.u8(tagString)
		w.str(val.Val)
	case runtime.ListValue:
		w.u8(tagList)
		w.uvarint(uint64(len(val.Elements)))
		for _, el := range val.Elements {
			if err := w.value(el); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("transfer: cannot encode %T", v)
	}
	return nil
}

// maxValueDepth bounds list nesting in decoded constants.
const maxValueDepth = 64

// reader decodes primitives; the first failure sticks in err and later reads
// return zero values.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *reader) u8() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.fail("truncated")
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail("truncated varint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail("truncated varint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) num() int {
	v := r.varint()
	if v < math.MinInt32 || v > math.MaxInt32 {
		r.fail("integer %d out of range", v)
		return 0
	}
	return int(v)
}

// count reads a length prefix and checks it against the remaining bytes,
// since every element takes at least one byte.
func (r *reader) count() int {
	n := r.uvarint()
	if n > uint64(len(r.buf)) {
		r.fail("length %d exceeds remaining %d bytes", n, len(r.buf))
		return 0
	}
	return int(n)
}

func (r *reader) str() string {
	n := r.count()
	if r.err != nil {
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *reader) flag() bool {
	switch b := r.u8(); b {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail("bad bool byte %d", b)
		return false
	}
}

func (r *reader) strs() []string {
	n := r.count()
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.str())
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (r *reader) ints() []int {
	n := r.count()
	out := make([]int, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.num())
	}
	return out
}

func (r *reader) value(depth int) runtime.Value {
	if depth > maxValueDepth {
		r.fail("constant nested deeper than %d", maxValueDepth)
		return nil
	}
	switch tag := r.u8(); tag {
	case tagVoid:
		return runtime.Void
	case tagBool:
		return runtime.BoolValue{Val: r.flag()}
	case tagInteger:
		return runtime.IntegerValue{Val: r.varint()}
	case tagFloat:
		if len(r.buf) < 8 {
			r.fail("truncated float")
			return nil
		}
		bits := binary.BigEndian.Uint64(r.buf)
		r.buf = r.buf[8:]
		return runtime.FloatValue{Val: math.Float64frombits(bits)}
	case tagString:
		return runtime.StringValue{Val: r.str()}
	case tagList:
		n := r.count()
		elems := make([]runtime.Value, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			elems = append(elems, r.value(depth+1))
		}
		return runtime.ListValue{Elements: elems}
	default:
		if r.err == nil {
			r.fail("unknown value tag %d", tag)
		}
		return nil
	}
}
