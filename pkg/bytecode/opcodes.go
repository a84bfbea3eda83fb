// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Op is a single-byte opcode. The values are part of the on-disk format.
type Op byte

const (
	OpNop    Op = 0x00
	OpPush   Op = 0x01 // i64 immediate
	OpPop    Op = 0x02
	OpDup    Op = 0x03
	OpSwap   Op = 0x04
	OpLoad   Op = 0x05 // u8 local
	OpStore  Op = 0x06 // u8 local
	OpGLoad  Op = 0x07 // u8 global
	OpGStore Op = 0x08 // u8 global

	OpAdd Op = 0x10
	OpSub Op = 0x11
	OpMul Op = 0x12
	OpDiv Op = 0x13
	OpRem Op = 0x14
	OpAnd Op = 0x15
	OpOr  Op = 0x16
	OpXor Op = 0x17
	OpShl Op = 0x18
	OpShr Op = 0x19
	OpNeg Op = 0x1a

	OpEq Op = 0x20
	OpNe Op = 0x21
	OpLt Op = 0x22
	OpLe Op = 0x23
	OpGt Op = 0x24
	OpGe Op = 0x25

	OpJmp Op = 0x30 // i16 offset relative to the instruction start
	OpJz  Op = 0x31 // i16
	OpJnz Op = 0x32 // i16

	OpCall   Op = 0x40 // u16 method index
	OpInvoke Op = 0x41 // u16 const ("module.method"), u8 argument count
	OpRet    Op = 0x42
	OpThrow  Op = 0x43 // u16 const (fault type)

	OpInLen  Op = 0x50
	OpInByte Op = 0x51
	OpInU32  Op = 0x52

	OpProbe Op = 0x60 // u32 edge
)

type opFlags int

const (
	flagCondBranch opFlags = 1 << iota
	flagJump
	flagTerminal // no fall-through
	flagCompare
)

type opInfo struct {
	name  string
	size  int // including the opcode byte
	pop   int
	push  int
	flags opFlags
}

var opTable = map[Op]opInfo{
	OpNop:    {"nop", 1, 0, 0, 0},
	OpPush:   {"push", 9, 0, 1, 0},
	OpPop:    {"pop", 1, 1, 0, 0},
	OpDup:    {"dup", 1, 1, 2, 0},
	OpSwap:   {"swap", 1, 2, 2, 0},
	OpLoad:   {"load", 2, 0, 1, 0},
	OpStore:  {"store", 2, 1, 0, 0},
	OpGLoad:  {"gload", 2, 0, 1, 0},
	OpGStore: {"gstore", 2, 1, 0, 0},
	OpAdd:    {"add", 1, 2, 1, 0},
	OpSub:    {"sub", 1, 2, 1, 0},
	OpMul:    {"mul", 1, 2, 1, 0},
	OpDiv:    {"div", 1, 2, 1, 0},
	OpRem:    {"rem", 1, 2, 1, 0},
	OpAnd:    {"and", 1, 2, 1, 0},
	OpOr:     {"or", 1, 2, 1, 0},
	OpXor:    {"xor", 1, 2, 1, 0},
	OpShl:    {"shl", 1, 2, 1, 0},
	OpShr:    {"shr", 1, 2, 1, 0},
	OpNeg:    {"neg", 1, 1, 1, 0},
	OpEq:     {"eq", 1, 2, 1, flagCompare},
	OpNe:     {"ne", 1, 2, 1, flagCompare},
	OpLt:     {"lt", 1, 2, 1, flagCompare},
	OpLe:     {"le", 1, 2, 1, flagCompare},
	OpGt:     {"gt", 1, 2, 1, flagCompare},
	OpGe:     {"ge", 1, 2, 1, flagCompare},
	OpJmp:    {"jmp", 3, 0, 0, flagJump | flagTerminal},
	OpJz:     {"jz", 3, 1, 0, flagCondBranch},
	OpJnz:    {"jnz", 3, 1, 0, flagCondBranch},
	OpCall:   {"call", 3, -1, 1, 0},
	OpInvoke: {"invoke", 4, -1, 1, 0},
	OpRet:    {"ret", 1, 1, 0, flagTerminal},
	OpThrow:  {"throw", 3, 0, 0, flagTerminal},
	OpInLen:  {"inlen", 1, 0, 1, 0},
	OpInByte: {"inbyte", 1, 1, 1, 0},
	OpInU32:  {"inu32", 1, 1, 1, 0},
	OpProbe:  {"probe", 5, 0, 0, 0},
}

var opByName = func() map[string]Op {
	m := make(map[string]Op)
	for op, info := range opTable {
		m[info.name] = op
	}
	return m
}()

func (op Op) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op(0x%02x)", byte(op))
}

// Size returns the encoded size of the instruction, or 0 for unknown opcodes.
func (op Op) Size() int {
	return opTable[op].size
}

func (op Op) IsCondBranch() bool { return opTable[op].flags&flagCondBranch != 0 }
func (op Op) IsBranch() bool     { return opTable[op].flags&(flagCondBranch|flagJump) != 0 }
func (op Op) IsTerminal() bool   { return opTable[op].flags&flagTerminal != 0 }
func (op Op) IsCompare() bool    { return opTable[op].flags&flagCompare != 0 }

// Inst is a decoded instruction.
type Inst struct {
	PC  int
	Op  Op
	Arg int64 // immediate, index, branch offset or edge
	N   int   // argument count of OpInvoke
}

func (in Inst) Size() int {
	return in.Op.Size()
}

// Target returns the absolute branch target.
func (in Inst) Target() int {
	return in.PC + int(in.Arg)
}

func (in Inst) String() string {
	if in.Op.Size() == 1 {
		return in.Op.String()
	}
	if in.Op == OpInvoke {
		return fmt.Sprintf("%v %v %v", in.Op, in.Arg, in.N)
	}
	return fmt.Sprintf("%v %v", in.Op, in.Arg)
}

// DecodeAt decodes a single instruction at pc.
func DecodeAt(code []byte, pc int) (Inst, error) {
	if pc < 0 || pc >= len(code) {
		return Inst{}, fmt.Errorf("pc %v is out of code bounds [0, %v)", pc, len(code))
	}
	op := Op(code[pc])
	info, ok := opTable[op]
	if !ok {
		return Inst{}, fmt.Errorf("unknown opcode 0x%02x at pc %v", byte(op), pc)
	}
	if pc+info.size > len(code) {
		return Inst{}, fmt.Errorf("truncated %v at pc %v", op, pc)
	}
	in := Inst{PC: pc, Op: op}
	arg := code[pc+1 : pc+info.size]
	switch op {
	case OpPush:
		in.Arg = int64(binary.LittleEndian.Uint64(arg))
	case OpLoad, OpStore, OpGLoad, OpGStore:
		in.Arg = int64(arg[0])
	case OpJmp, OpJz, OpJnz:
		in.Arg = int64(int16(binary.LittleEndian.Uint16(arg)))
	case OpCall, OpThrow:
		in.Arg = int64(binary.LittleEndian.Uint16(arg))
	case OpInvoke:
		in.Arg = int64(binary.LittleEndian.Uint16(arg))
		in.N = int(arg[2])
	case OpProbe:
		in.Arg = int64(binary.LittleEndian.Uint32(arg))
	}
	return in, nil
}

// Decode decodes the whole method body.
func Decode(code []byte) ([]Inst, error) {
	var insts []Inst
	for pc := 0; pc < len(code); {
		in, err := DecodeAt(code, pc)
		if err != nil {
			return nil, err
		}
		insts = append(insts, in)
		pc += in.Size()
	}
	return insts, nil
}

// Append encodes the instruction at the end of code. It fails if the operand
// does not fit into the instruction encoding.
func Append(code []byte, in Inst) ([]byte, error) {
	if _, ok := opTable[in.Op]; !ok {
		return nil, fmt.Errorf("unknown opcode 0x%02x", byte(in.Op))
	}
	code = append(code, byte(in.Op))
	switch in.Op {
	case OpPush:
		code = binary.LittleEndian.AppendUint64(code, uint64(in.Arg))
	case OpLoad, OpStore, OpGLoad, OpGStore:
		if in.Arg < 0 || in.Arg > 0xff {
			return nil, fmt.Errorf("%v: index %v out of range", in.Op, in.Arg)
		}
		code = append(code, byte(in.Arg))
	case OpJmp, OpJz, OpJnz:
		if in.Arg < -1<<15 || in.Arg >= 1<<15 {
			return nil, fmt.Errorf("%w: %v", ErrBranchOffset, in.Arg)
		}
		code = binary.LittleEndian.AppendUint16(code, uint16(int16(in.Arg)))
	case OpCall, OpThrow:
		if in.Arg < 0 || in.Arg > 0xffff {
			return nil, fmt.Errorf("%v: index %v out of range", in.Op, in.Arg)
		}
		code = binary.LittleEndian.AppendUint16(code, uint16(in.Arg))
	case OpInvoke:
		if in.Arg < 0 || in.Arg > 0xffff || in.N < 0 || in.N > 0xff {
			return nil, fmt.Errorf("invoke: bad operands %v %v", in.Arg, in.N)
		}
		code = binary.LittleEndian.AppendUint16(code, uint16(in.Arg))
		code = append(code, byte(in.N))
	case OpProbe:
		if in.Arg < 0 || in.Arg > 0xffffffff {
			return nil, fmt.Errorf("probe: edge %v out of range", in.Arg)
		}
		code = binary.LittleEndian.AppendUint32(code, uint32(in.Arg))
	}
	return code, nil
}
