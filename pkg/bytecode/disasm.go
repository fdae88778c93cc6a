package bytecode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ai/interpreter-go/pkg/runtime"
)

// Disassemble writes a stable, human-readable listing of p.
func Disassemble(w io.Writer, p *Program) error {
	bw := bufio.NewWriter(w)
	if p.Meta.Source != "" || p.Meta.Revision != "" {
		fmt.Fprintf(bw, "; source %s revision %s\n", orDash(p.Meta.Source), orDash(p.Meta.Revision))
	}
	for i, decl := range p.Bindings {
		fmt.Fprintf(bw, "; binding %d %s %s", i, decl.Kind, decl.Name)
		if decl.Writes {
			bw.WriteString(" writes")
		}
		for _, shape := range decl.Shapes {
			fmt.Fprintf(bw, " [%s]", shape)
		}
		bw.WriteByte('\n')
	}
	for i, r := range p.Routines {
		params := make([]string, len(r.Params))
		for j, idx := range r.Params {
			params[j] = "$" + p.nameAt(idx)
		}
		fmt.Fprintf(bw, "; routine %d %s %s(%s)", i, r.Kind, r.Name, strings.Join(params, ", "))
		if r.Kind == RoutineSequence {
			fmt.Fprintf(bw, " entry %d", r.Entry)
		} else {
			fmt.Fprintf(bw, " branches %v", r.Branches)
		}
		bw.WriteByte('\n')
	}
	for ip, ins := range p.Code {
		marker := "  "
		if ip == p.Entry {
			marker = "> "
		}
		fmt.Fprintf(bw, "%s%4d  %-14s%s\n", marker, ip, ins.Op, p.operandText(ins))
	}
	return bw.Flush()
}

func (p *Program) operandText(ins Instruction) string {
	var arg string
	switch ins.Op.Operand() {
	case OperandConst:
		if ins.Arg >= 0 && ins.Arg < len(p.Constants) {
			c := p.Constants[ins.Arg]
			if s, ok := c.(runtime.StringValue); ok {
				arg = strconv.Quote(s.Val)
			} else {
				arg = runtime.Format(c)
			}
		}
	case OperandName:
		arg = "$" + p.nameAt(ins.Arg)
	case OperandBinding:
		if ins.Arg >= 0 && ins.Arg < len(p.Bindings) {
			arg = p.Bindings[ins.Arg].Name
		}
	case OperandRoutine:
		if ins.Arg >= 0 && ins.Arg < len(p.Routines) {
			arg = p.Routines[ins.Arg].Name
		}
	case OperandTarget:
		arg = "-> " + strconv.Itoa(ins.Arg)
	}
	if ins.Op.Counted() {
		if arg != "" {
			arg += " "
		}
		arg += "/" + strconv.Itoa(ins.Count)
	}
	return arg
}

func (p *Program) nameAt(idx int) string {
	if idx >= 0 && idx < len(p.Names) {
		return p.Names[idx]
	}
	return "?" + strconv.Itoa(idx)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
