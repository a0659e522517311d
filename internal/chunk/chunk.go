// Package chunk implements the compiled output of one function, module,
// or script: a bytecode buffer, its constant pool, and a parallel
// per-byte source-token table used for diagnostics and backtraces.
package chunk

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/yosefbeder/qatam/internal/token"
	"github.com/yosefbeder/qatam/internal/value"
)

type OpCode byte

const (
	NEG OpCode = iota
	NOT
	ADD
	SUB
	MUL
	DIV
	REM

	EQ
	NOT_EQ
	GREATER
	GREATER_EQ
	LESS
	LESS_EQ

	CONST8
	CONST16

	JUMP
	POP_JUMP_IF_FALSY
	POP_JUMP_IF_TRUTHY
	JUMP_IF_FALSY_OR_POP
	JUMP_IF_TRUTHY_OR_POP
	LOOP
	FOR_ITER

	GET_LOCAL
	SET_LOCAL
	DEF_LOCAL
	POP_LOCAL

	GET_UPVALUE
	SET_UPVALUE
	CLOSE_UPVALUE

	GET_GLOBAL8
	GET_GLOBAL16
	SET_GLOBAL8
	SET_GLOBAL16
	DEF_GLOBAL8
	DEF_GLOBAL16

	CLOSURE8
	CLOSURE16

	CALL
	BUILD_VARIADIC
	RET

	BUILD_LIST
	BUILD_HASH_MAP
	GET
	SET
	UNPACK_LIST
	UNPACK_HASH_MAP

	APPEND_HANDLER
	POP_HANDLER
	THROW

	ITER

	POP
	DUP
)

var names = map[OpCode]string{
	NEG: "NEG", NOT: "NOT", ADD: "ADD", SUB: "SUB", MUL: "MUL", DIV: "DIV", REM: "REM",
	EQ: "EQ", NOT_EQ: "NOT_EQ", GREATER: "GREATER", GREATER_EQ: "GREATER_EQ", LESS: "LESS", LESS_EQ: "LESS_EQ",
	CONST8: "CONST8", CONST16: "CONST16",
	JUMP: "JUMP", POP_JUMP_IF_FALSY: "POP_JUMP_IF_FALSY", POP_JUMP_IF_TRUTHY: "POP_JUMP_IF_TRUTHY",
	JUMP_IF_FALSY_OR_POP: "JUMP_IF_FALSY_OR_POP", JUMP_IF_TRUTHY_OR_POP: "JUMP_IF_TRUTHY_OR_POP",
	LOOP: "LOOP", FOR_ITER: "FOR_ITER",
	GET_LOCAL: "GET_LOCAL", SET_LOCAL: "SET_LOCAL", DEF_LOCAL: "DEF_LOCAL", POP_LOCAL: "POP_LOCAL",
	GET_UPVALUE: "GET_UPVALUE", SET_UPVALUE: "SET_UPVALUE", CLOSE_UPVALUE: "CLOSE_UPVALUE",
	GET_GLOBAL8: "GET_GLOBAL8", GET_GLOBAL16: "GET_GLOBAL16",
	SET_GLOBAL8: "SET_GLOBAL8", SET_GLOBAL16: "SET_GLOBAL16",
	DEF_GLOBAL8: "DEF_GLOBAL8", DEF_GLOBAL16: "DEF_GLOBAL16",
	CLOSURE8: "CLOSURE8", CLOSURE16: "CLOSURE16",
	CALL: "CALL", BUILD_VARIADIC: "BUILD_VARIADIC", RET: "RET",
	BUILD_LIST: "BUILD_LIST", BUILD_HASH_MAP: "BUILD_HASH_MAP", GET: "GET", SET: "SET",
	UNPACK_LIST: "UNPACK_LIST", UNPACK_HASH_MAP: "UNPACK_HASH_MAP",
	APPEND_HANDLER: "APPEND_HANDLER", POP_HANDLER: "POP_HANDLER", THROW: "THROW",
	ITER: "ITER", POP: "POP", DUP: "DUP",
}

func (op OpCode) String() string {
	if s, ok := names[op]; ok {
		return s
	}
	return fmt.Sprintf("OP_%d", byte(op))
}

// Errors returned by the builder helpers when a limit in spec.md's
// compile-error table is exceeded; the compiler wraps these with the
// offending token into a *compiler.CompileError.
var (
	ErrTooManyConstants = errors.New("too many constants")
	ErrHugeJump         = errors.New("jump offset too large")
	ErrHugeSize         = errors.New("collection too large")
)

const maxUint16 = 1<<16 - 1

// Chunk holds three parallel views over the same instruction sequence:
// raw bytes, a constant pool, and one optional source token per byte
// (most slots are zero-value; every branching/call/throw/arithmetic/
// indexing/globals instruction byte has its token populated).
type Chunk struct {
	Code      []byte
	Constants []value.Value
	Tokens    []token.Token
	hasToken  []bool
	FileName  string
	// BuildID identifies this compilation uniquely; surfaced in the
	// header of --فكك (Disassemble) output so a bug report can be tied
	// to the exact bytecode that produced it.
	BuildID uuid.UUID
}

func New(fileName string) *Chunk {
	c := &Chunk{FileName: fileName, BuildID: uuid.New()}
	// Reserved constant-pool slots: Nil, true, false.
	c.Constants = append(c.Constants, value.NewNil(), value.NewBool(true), value.NewBool(false))
	return c
}

const (
	ConstNil   = 0
	ConstTrue  = 1
	ConstFalse = 2
)

func (c *Chunk) Len() int { return len(c.Code) }

func (c *Chunk) appendByte(b byte, tok token.Token, attributed bool) {
	c.Code = append(c.Code, b)
	c.Tokens = append(c.Tokens, tok)
	c.hasToken = append(c.hasToken, attributed)
}

// TokenAt returns the source token attributed to the instruction at ip,
// if any.
func (c *Chunk) TokenAt(ip int) (token.Token, bool) {
	if ip < 0 || ip >= len(c.hasToken) {
		return token.Token{}, false
	}
	return c.Tokens[ip], c.hasToken[ip]
}

// WriteInstr appends a single opcode byte attributed to tok.
func (c *Chunk) WriteInstr(op OpCode, tok token.Token) int {
	ip := len(c.Code)
	c.appendByte(byte(op), tok, true)
	return ip
}

// WriteByte appends a raw operand byte with no token attribution.
func (c *Chunk) WriteByte(b byte, tok token.Token) {
	c.appendByte(b, tok, false)
}

// WriteShort appends a little-endian (low, high) 16-bit operand.
func (c *Chunk) WriteShort(n uint16, tok token.Token) {
	c.appendByte(byte(n&0xff), tok, false)
	c.appendByte(byte(n>>8), tok, false)
}

// AddConstant interns Nil/true/false to their reserved slots and strings
// by linear scan; every other value (including numbers) is appended
// unconditionally.
func (c *Chunk) AddConstant(v value.Value) (int, error) {
	switch v.Type {
	case value.Nil:
		return ConstNil, nil
	case value.Bool:
		if v.AsBool {
			return ConstTrue, nil
		}
		return ConstFalse, nil
	}
	if v.IsString() {
		s := v.AsString().Chars
		for i, existing := range c.Constants {
			if existing.IsString() && existing.AsString().Chars == s {
				return i, nil
			}
		}
	}
	if len(c.Constants) >= maxUint16+1 {
		return 0, ErrTooManyConstants
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1, nil
}

// WriteInstrConst emits op8 with a one-byte index if the constant pool
// index fits in a byte, else op16 with a two-byte index.
func (c *Chunk) WriteInstrConst(op8, op16 OpCode, tok token.Token, v value.Value) error {
	idx, err := c.AddConstant(v)
	if err != nil {
		return err
	}
	if idx <= 0xff {
		c.WriteInstr(op8, tok)
		c.WriteByte(byte(idx), tok)
	} else {
		c.WriteInstr(op16, tok)
		c.WriteShort(uint16(idx), tok)
	}
	return nil
}

// WriteJump emits op plus two placeholder operand bytes and returns the
// ip of the op byte, to be patched later by SettleJump.
func (c *Chunk) WriteJump(op OpCode, tok token.Token) int {
	ip := c.WriteInstr(op, tok)
	c.WriteByte(0, tok)
	c.WriteByte(0, tok)
	return ip
}

// SettleJump patches the jump at ip to land on the current end of the
// chunk.
func (c *Chunk) SettleJump(ip int) error {
	offset := len(c.Code) - (ip + 3)
	if offset < 0 || offset > maxUint16 {
		return ErrHugeJump
	}
	c.Code[ip+1] = byte(offset & 0xff)
	c.Code[ip+2] = byte(offset >> 8)
	return nil
}

// WriteLoop emits LOOP with an operand equal to the distance back to
// start.
func (c *Chunk) WriteLoop(tok token.Token, start int) error {
	ip := c.WriteInstr(LOOP, tok)
	c.WriteByte(0, tok)
	c.WriteByte(0, tok)
	offset := (len(c.Code)) - start
	if offset < 0 || offset > maxUint16 {
		return ErrHugeJump
	}
	c.Code[ip+1] = byte(offset & 0xff)
	c.Code[ip+2] = byte(offset >> 8)
	return nil
}

// UpvalueDescriptor is one (is_local, index) pair written after a
// CLOSURE instruction.
type UpvalueDescriptor struct {
	IsLocal bool
	Index   int
}

// WriteClosure writes the function as a constant, a CLOSURE8/16
// instruction, the upvalue count, then each (is_local, idx) pair.
func (c *Chunk) WriteClosure(tok token.Token, fn value.Value, upvalues []UpvalueDescriptor) error {
	idx, err := c.AddConstant(fn)
	if err != nil {
		return err
	}
	if idx <= 0xff {
		c.WriteInstr(CLOSURE8, tok)
		c.WriteByte(byte(idx), tok)
	} else {
		c.WriteInstr(CLOSURE16, tok)
		c.WriteShort(uint16(idx), tok)
	}
	c.WriteByte(byte(len(upvalues)), tok)
	for _, uv := range upvalues {
		isLocal := byte(0)
		if uv.IsLocal {
			isLocal = 1
		}
		c.WriteByte(isLocal, tok)
		c.WriteByte(byte(uv.Index), tok)
	}
	return nil
}

// WriteBuild emits a BUILD_LIST/BUILD_HASH_MAP-shaped instruction with a
// u16 size operand.
func (c *Chunk) WriteBuild(op OpCode, tok token.Token, size int) error {
	if size > maxUint16 {
		return ErrHugeSize
	}
	c.WriteInstr(op, tok)
	c.WriteShort(uint16(size), tok)
	return nil
}

// WriteListUnpack emits UNPACK_LIST n.
func (c *Chunk) WriteListUnpack(tok token.Token, n int) error {
	return c.WriteBuild(UNPACK_LIST, tok, n)
}

// WriteHashMapUnpack emits UNPACK_HASH_MAP n followed by one flag byte
// per key: 1 if that key pattern carries a default expression, 0
// otherwise.
func (c *Chunk) WriteHashMapUnpack(tok token.Token, flags []bool) error {
	if len(flags) > maxUint16 {
		return ErrHugeSize
	}
	c.WriteInstr(UNPACK_HASH_MAP, tok)
	c.WriteShort(uint16(len(flags)), tok)
	for _, f := range flags {
		b := byte(0)
		if f {
			b = 1
		}
		c.WriteByte(b, tok)
	}
	return nil
}

// WriteCall emits CALL argc; argc must already be known to fit in a
// byte (checked by the compiler against the 255-argument cap).
func (c *Chunk) WriteCall(tok token.Token, argc int) {
	c.WriteInstr(CALL, tok)
	c.WriteByte(byte(argc), tok)
}

// Disassemble prints a human-readable listing of this chunk (and,
// recursively, any function objects in its constant pool) to stdout.
func (c *Chunk) Disassemble(name string) {
	fmt.Printf("== %s (build %s, %s instructions) ==\n", name, c.BuildID, humanize.Comma(int64(len(c.Code))))
	for offset := 0; offset < len(c.Code); {
		offset = c.disassembleInstruction(offset)
	}
}

func (c *Chunk) DisassembleAll(name string) {
	c.Disassemble(name)
	for _, k := range c.Constants {
		if fn, ok := k.Obj.(*value.Function); ok {
			if fnChunk, ok := fn.Chunk.(*Chunk); ok {
				fmt.Println()
				fnChunk.DisassembleAll(fn.Name)
			}
		}
	}
}

func (c *Chunk) lineAt(offset int) int {
	if tok, ok := c.TokenAt(offset); ok {
		return tok.Line
	}
	return 0
}

func (c *Chunk) disassembleInstruction(offset int) int {
	fmt.Printf("%04d ", offset)
	if offset > 0 && c.lineAt(offset) == c.lineAt(offset-1) && c.lineAt(offset) != 0 {
		fmt.Printf("   | ")
	} else {
		fmt.Printf("%4d ", c.lineAt(offset))
	}

	op := OpCode(c.Code[offset])
	switch op {
	case CONST8, GET_GLOBAL8, SET_GLOBAL8, DEF_GLOBAL8:
		return c.constantInstr(op.String(), offset)
	case CONST16, GET_GLOBAL16, SET_GLOBAL16, DEF_GLOBAL16:
		return c.constantLongInstr(op.String(), offset)
	case GET_LOCAL, SET_LOCAL, GET_UPVALUE, SET_UPVALUE, CALL:
		return c.byteInstr(op.String(), offset)
	case JUMP, POP_JUMP_IF_FALSY, POP_JUMP_IF_TRUTHY, JUMP_IF_FALSY_OR_POP, JUMP_IF_TRUTHY_OR_POP, LOOP, FOR_ITER,
		BUILD_LIST, BUILD_HASH_MAP, UNPACK_LIST, APPEND_HANDLER:
		return c.shortInstr(op.String(), offset)
	case UNPACK_HASH_MAP:
		return c.hashMapUnpackInstr(offset)
	case CLOSURE8:
		return c.closureInstr(offset, false)
	case CLOSURE16:
		return c.closureInstr(offset, true)
	default:
		return c.simpleInstr(op.String(), offset)
	}
}

func (c *Chunk) simpleInstr(name string, offset int) int {
	fmt.Println(name)
	return offset + 1
}

func (c *Chunk) constantInstr(name string, offset int) int {
	idx := c.Code[offset+1]
	fmt.Printf("%-22s %4d '%s'\n", name, idx, c.Constants[idx])
	return offset + 2
}

func (c *Chunk) constantLongInstr(name string, offset int) int {
	idx := uint16(c.Code[offset+1]) | uint16(c.Code[offset+2])<<8
	fmt.Printf("%-22s %8s '%s'\n", name, humanize.Comma(int64(idx)), c.Constants[idx])
	return offset + 3
}

func (c *Chunk) byteInstr(name string, offset int) int {
	v := c.Code[offset+1]
	fmt.Printf("%-22s %4d\n", name, v)
	return offset + 2
}

func (c *Chunk) shortInstr(name string, offset int) int {
	v := uint16(c.Code[offset+1]) | uint16(c.Code[offset+2])<<8
	fmt.Printf("%-22s %4d\n", name, v)
	return offset + 3
}

func (c *Chunk) hashMapUnpackInstr(offset int) int {
	n := int(uint16(c.Code[offset+1]) | uint16(c.Code[offset+2])<<8)
	fmt.Printf("%-22s %4d flags=", "UNPACK_HASH_MAP", n)
	end := offset + 3 + n
	for i := offset + 3; i < end && i < len(c.Code); i++ {
		fmt.Printf("%d", c.Code[i])
	}
	fmt.Println()
	return end
}

func (c *Chunk) closureInstr(offset int, wide bool) int {
	name := "CLOSURE8"
	size := 2
	idx := int(c.Code[offset+1])
	if wide {
		name = "CLOSURE16"
		size = 3
		idx = int(uint16(c.Code[offset+1]) | uint16(c.Code[offset+2])<<8)
	}
	fmt.Printf("%-22s %4d '%s'\n", name, idx, c.Constants[idx])
	pos := offset + size
	count := int(c.Code[pos])
	pos++
	for i := 0; i < count; i++ {
		isLocal := c.Code[pos]
		localIdx := c.Code[pos+1]
		kind := "upvalue"
		if isLocal == 1 {
			kind = "local"
		}
		fmt.Printf("%04d      |                     %s %d\n", pos, kind, localIdx)
		pos += 2
	}
	return pos
}
