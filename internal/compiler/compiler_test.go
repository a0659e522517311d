package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yosefbeder/qatam/internal/chunk"
	"github.com/yosefbeder/qatam/internal/lexer"
	"github.com/yosefbeder/qatam/internal/parser"
)

func compile(t *testing.T, source string) *chunk.Chunk {
	t.Helper()
	l := lexer.New(source, "test.قتام")
	p := parser.New(l)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())

	fn, errs := Compile(prog, "test.قتام", nil)
	require.Empty(t, errs)

	ch, ok := fn.Chunk.(*chunk.Chunk)
	require.True(t, ok, "Function.Chunk must hold a *chunk.Chunk")
	return ch
}

func TestCompileArithmeticEmitsExpectedOps(t *testing.T) {
	ch := compile(t, "1 + 2;")
	ops := opsOf(ch)
	assert.Contains(t, ops, chunk.ADD)
	assert.Contains(t, ops, chunk.POP)
}

func TestCompileStringConstantIsInterned(t *testing.T) {
	ch := compile(t, `var a = "hi"; var b = "hi";`)
	count := 0
	for _, v := range ch.Constants {
		if v.IsString() && v.AsString().Chars == "hi" {
			count++
		}
	}
	assert.Equal(t, 1, count, "equal string literals should share one constant-pool slot")
}

func TestCompileIfEmitsConditionalJump(t *testing.T) {
	ch := compile(t, `if (true) { var x = 1; } else { var x = 2; }`)
	ops := opsOf(ch)
	assert.Contains(t, ops, chunk.POP_JUMP_IF_FALSY)
	assert.Contains(t, ops, chunk.JUMP)
}

func TestCompileWhileEmitsLoop(t *testing.T) {
	ch := compile(t, `while (false) { }`)
	assert.Contains(t, opsOf(ch), chunk.LOOP)
}

func TestCompileForInEmitsIter(t *testing.T) {
	ch := compile(t, `for x in [1, 2] { }`)
	ops := opsOf(ch)
	assert.Contains(t, ops, chunk.ITER)
	assert.Contains(t, ops, chunk.FOR_ITER)
}

func TestCompileLambdaEmitsClosure(t *testing.T) {
	ch := compile(t, `
fn make() {
	var n = 0;
	return || { return n; };
}
`)
	assert.Contains(t, opsOf(ch), chunk.CLOSURE8)
}

func TestDuplicateLocalInSameScopeIsAnError(t *testing.T) {
	l := lexer.New(`{ var x = 1; var x = 2; }`, "test.قتام")
	p := parser.New(l)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())

	_, errs := Compile(prog, "test.قتام", nil)
	require.NotEmpty(t, errs)
	assert.Equal(t, SameVarInScope, errs[0].Kind)
}

func TestBreakOutsideLoopIsAnError(t *testing.T) {
	l := lexer.New(`break;`, "test.قتام")
	p := parser.New(l)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())

	_, errs := Compile(prog, "test.قتام", nil)
	require.NotEmpty(t, errs)
	assert.Equal(t, OutsideLoopBreak, errs[0].Kind)
}

// opsOf walks a chunk's bytecode and returns the opcode sequence, skipping
// over each instruction's operand bytes.
func opsOf(ch *chunk.Chunk) []chunk.OpCode {
	var ops []chunk.OpCode
	for i := 0; i < len(ch.Code); {
		op := chunk.OpCode(ch.Code[i])
		ops = append(ops, op)
		i += instrWidth(ch, op, i)
	}
	return ops
}

// instrWidth mirrors the disassembler's per-opcode operand widths closely
// enough to walk the stream without decoding operand values.
func instrWidth(ch *chunk.Chunk, op chunk.OpCode, offset int) int {
	switch op {
	case chunk.CONST8, chunk.GET_GLOBAL8, chunk.SET_GLOBAL8, chunk.DEF_GLOBAL8,
		chunk.GET_LOCAL, chunk.SET_LOCAL, chunk.GET_UPVALUE, chunk.SET_UPVALUE, chunk.CALL:
		return 2
	case chunk.CONST16, chunk.GET_GLOBAL16, chunk.SET_GLOBAL16, chunk.DEF_GLOBAL16,
		chunk.JUMP, chunk.POP_JUMP_IF_FALSY, chunk.POP_JUMP_IF_TRUTHY,
		chunk.JUMP_IF_FALSY_OR_POP, chunk.JUMP_IF_TRUTHY_OR_POP, chunk.LOOP, chunk.FOR_ITER,
		chunk.BUILD_LIST, chunk.BUILD_HASH_MAP, chunk.UNPACK_LIST, chunk.APPEND_HANDLER:
		return 3
	case chunk.UNPACK_HASH_MAP:
		n := int(uint16(ch.Code[offset+1]) | uint16(ch.Code[offset+2])<<8)
		return 3 + n
	case chunk.CLOSURE8, chunk.CLOSURE16:
		size := 2
		if op == chunk.CLOSURE16 {
			size = 3
		}
		count := int(ch.Code[offset+size])
		return size + 1 + count*2
	default:
		return 1
	}
}
