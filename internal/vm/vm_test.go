package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yosefbeder/qatam/internal/compiler"
	"github.com/yosefbeder/qatam/internal/lexer"
	"github.com/yosefbeder/qatam/internal/parser"
	"github.com/yosefbeder/qatam/internal/value"
)

// runScript compiles and runs source, returning the value bound to the
// top-level global `result`.
func runScript(t *testing.T, source string) value.Value {
	t.Helper()
	l := lexer.New("var result = "+source+";", "test.قتام")
	p := parser.New(l)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())

	fn, errs := compiler.Compile(prog, "test.قتام", nil)
	require.Empty(t, errs)

	machine := New(Config{RootPath: "."})
	_, err := machine.Run(fn)
	require.NoError(t, err)

	got, ok := machine.Globals()["result"]
	require.True(t, ok)
	return got
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"1 + 2", 3},
		{"1 - 2", -1},
		{"1 * 2", 2},
		{"4 / 2", 2},
		{"50 / 2 * 2 + 10", 60},
		{"2 * (5 + 10)", 30},
		{"3 * 3 * 3 + 10", 37},
		{"(5 + 10 * 2 + 15 / 3) * 2 + -10", 50},
		{"5 % 3", 2},
	}
	for _, tt := range tests {
		got := runScript(t, tt.input)
		assert.True(t, got.IsNumber(), "input %q: expected a number, got %s", tt.input, got.TypeName())
		assert.Equal(t, tt.expected, got.AsFloat, "input %q", tt.input)
	}
}

func TestDivisionByZeroIsNotAnError(t *testing.T) {
	got := runScript(t, "1 / 0")
	require.True(t, got.IsNumber())
	assert.True(t, math.IsInf(got.AsFloat, 1))
}

func TestBooleanLogic(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"false", false},
		{"1 < 2", true},
		{"1 > 2", false},
		{"1 == 1", true},
		{"1 != 1", false},
		{"true == false", false},
		{"(1 < 2) == true", true},
	}
	for _, tt := range tests {
		got := runScript(t, tt.input)
		require.True(t, got.IsBool(), "input %q", tt.input)
		assert.Equal(t, tt.expected, got.AsBool, "input %q", tt.input)
	}
}

func TestClosureCountersAreIndependent(t *testing.T) {
	source := `
fn make_counter() {
	var n = 0;
	return || {
		n = n + 1;
		return n;
	};
}
var a = make_counter();
var b = make_counter();
a();
a();
var result = [a(), b()];
`
	l := lexer.New(source, "test.قتام")
	p := parser.New(l)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())

	fn, errs := compiler.Compile(prog, "test.قتام", nil)
	require.Empty(t, errs)

	machine := New(Config{RootPath: "."})
	_, err := machine.Run(fn)
	require.NoError(t, err)

	got := machine.Globals()["result"]
	require.True(t, got.IsList())
	items := got.AsList().Items
	require.Len(t, items, 2)
	assert.Equal(t, float64(3), items[0].AsFloat)
	assert.Equal(t, float64(1), items[1].AsFloat)
}

func TestTryCatchCatchesThrow(t *testing.T) {
	source := `
var result = nil;
try {
	throw "boom";
} catch (e) {
	result = e;
}
`
	l := lexer.New(source, "test.قتام")
	p := parser.New(l)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())

	fn, errs := compiler.Compile(prog, "test.قتام", nil)
	require.Empty(t, errs)

	machine := New(Config{RootPath: "."})
	_, err := machine.Run(fn)
	require.NoError(t, err)

	got := machine.Globals()["result"]
	require.True(t, got.IsString())
	assert.Equal(t, "boom", got.AsString().Chars)
}

func TestForInOverList(t *testing.T) {
	source := `
var sum = 0;
for x in [1, 2, 3] {
	sum = sum + x;
}
var result = sum;
`
	l := lexer.New(source, "test.قتام")
	p := parser.New(l)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())

	fn, errs := compiler.Compile(prog, "test.قتام", nil)
	require.Empty(t, errs)

	machine := New(Config{RootPath: "."})
	_, err := machine.Run(fn)
	require.NoError(t, err)

	got := machine.Globals()["result"]
	require.True(t, got.IsNumber())
	assert.Equal(t, float64(6), got.AsFloat)
}
