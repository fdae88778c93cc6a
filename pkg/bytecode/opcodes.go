package bytecode

import (
	"fmt"
	"strings"
)

// Op is a single instruction opcode. The numeric values are part of the
// binary transfer format; append new opcodes, never reorder.
type Op byte

const (
	OpNop         Op = iota
	OpConst          // push Constants[Arg]
	OpVoid           // push void
	OpPop            // discard top
	OpDup            // duplicate top
	OpLoad           // push local Names[Arg]
	OpStore          // pop into local Names[Arg]
	OpGet            // push prop Bindings[Arg]
	OpSet            // pop into prop Bindings[Arg]
	OpAdd            // a + b
	OpSub            // a - b
	OpMul            // a * b
	OpDiv            // a / b
	OpMod            // a % b
	OpPow            // a ^ b
	OpNeg            // -a
	OpAbs            // |a|
	OpNot            // !truthy(a)
	OpAnd            // truthy(a) && truthy(b)
	OpOr             // truthy(a) || truthy(b)
	OpXor            // truthy(a) != truthy(b)
	OpEq             // a == b
	OpNe             // a != b
	OpLt             // a < b
	OpLe             // a <= b
	OpGt             // a > b
	OpGe             // a >= b
	OpList           // pop Count values into a list
	OpIndex          // pop idx, container; push container[idx]
	OpJump           // ip = Arg
	OpJumpIfFalse    // pop cond; if !truthy ip = Arg
	OpJumpIfTrue     // pop cond; if truthy ip = Arg
	OpCall           // call Bindings[Arg] with Count args
	OpInvoke         // run sequence routine Routines[Arg] with Count args
	OpGroup          // start and join group routine Routines[Arg] with Count args
	OpReturn         // pop result; return from routine or complete
	OpYield          // yield point

	opCount
)

// Operand describes what an instruction's Arg refers to.
type Operand int

const (
	OperandNone Operand = iota
	OperandConst
	OperandName
	OperandBinding
	OperandTarget
	OperandRoutine
)

type opInfo struct {
	name    string
	operand Operand
	counted bool
}

var opTable = [opCount]opInfo{
	OpNop:         {name: "nop"},
	OpConst:       {name: "const", operand: OperandConst},
	OpVoid:        {name: "void"},
	OpPop:         {name: "pop"},
	OpDup:         {name: "dup"},
	OpLoad:        {name: "load", operand: OperandName},
	OpStore:       {name: "store", operand: OperandName},
	OpGet:         {name: "get", operand: OperandBinding},
	OpSet:         {name: "set", operand: OperandBinding},
	OpAdd:         {name: "add"},
	OpSub:         {name: "sub"},
	OpMul:         {name: "mul"},
	OpDiv:         {name: "div"},
	OpMod:         {name: "mod"},
	OpPow:         {name: "pow"},
	OpNeg:         {name: "neg"},
	OpAbs:         {name: "abs"},
	OpNot:         {name: "not"},
	OpAnd:         {name: "and"},
	OpOr:          {name: "or"},
	OpXor:         {name: "xor"},
	OpEq:          {name: "eq"},
	OpNe:          {name: "ne"},
	OpLt:          {name: "lt"},
	OpLe:          {name: "le"},
	OpGt:          {name: "gt"},
	OpGe:          {name: "ge"},
	OpList:        {name: "list", counted: true},
	OpIndex:       {name: "index"},
	OpJump:        {name: "jump", operand: OperandTarget},
	OpJumpIfFalse: {name: "jump_if_false", operand: OperandTarget},
	OpJumpIfTrue:  {name: "jump_if_true", operand: OperandTarget},
	OpCall:        {name: "call", operand: OperandBinding, counted: true},
	OpInvoke:      {name: "invoke", operand: OperandRoutine, counted: true},
	OpGroup:       {name: "group", operand: OperandRoutine, counted: true},
	OpReturn:      {name: "return"},
	OpYield:       {name: "yield"},
}

// Valid reports whether op is a known opcode.
func (op Op) Valid() bool {
	return op < opCount
}

func (op Op) String() string {
	if !op.Valid() {
		return fmt.Sprintf("op_%d", int(op))
	}
	return opTable[op].name
}

// Operand reports what Arg means for op.
func (op Op) Operand() Operand {
	if !op.Valid() {
		return OperandNone
	}
	return opTable[op].operand
}

// Counted reports whether op consumes Count arguments from the stack.
func (op Op) Counted() bool {
	if !op.Valid() {
		return false
	}
	return opTable[op].counted
}

// ParseOp resolves a mnemonic produced by Op.String.
func ParseOp(name string) (Op, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, info := range opTable {
		if info.name == name {
			return Op(i), nil
		}
	}
	return OpNop, fmt.Errorf("unknown opcode %q", name)
}

// StackEffect reports how many operands ins pops and how many results it
// pushes. Invoke and Group push their result when the routine or group
// finishes; Call pushes once its task is done.
func (ins Instruction) StackEffect() (pops, pushes int) {
	switch ins.Op {
	case OpConst, OpVoid, OpLoad, OpGet:
		return 0, 1
	case OpDup:
		return 1, 2
	case OpPop, OpStore, OpSet, OpJumpIfFalse, OpJumpIfTrue, OpReturn:
		return 1, 0
	case OpNeg, OpAbs, OpNot:
		return 1, 1
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow,
		OpAnd, OpOr, OpXor,
		OpEq, OpNe, OpLt, OpLe, OpGt, OpGe,
		OpIndex:
		return 2, 1
	case OpList, OpCall, OpInvoke, OpGroup:
		return ins.Count, 1
	}
	return 0, 0
}
