// Package value implements qatam's tagged-union value model: inline
// primitives (Nil, Bool, Number) plus heap objects (String, List,
// HashMap, Function, Closure, Native, File, Iterator).
//
// Function.Chunk is stored as interface{} to avoid an import cycle between
// value and chunk (a Function owns a *chunk.Chunk, and a Chunk's
// constant pool holds Values); the compiler and vm packages type-assert
// it back to *chunk.Chunk.
package value

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Type int

const (
	Nil Type = iota
	Bool
	Number
	Object
)

// ObjType tags which heap object Value.Obj holds when Type == Object.
type ObjType int

const (
	ObjString ObjType = iota
	ObjList
	ObjHashMap
	ObjFunction
	ObjClosure
	ObjNative
	ObjFile
	ObjIterator
)

// Value is qatam's tagged union. Primitives are inline; Object carries a
// pointer/handle to a heap-allocated, reference-counted-by-Go's-GC
// object in Obj.
type Value struct {
	Type    Type
	AsBool  bool
	AsFloat float64
	Obj     interface{}
}

func NewNil() Value           { return Value{Type: Nil} }
func NewBool(b bool) Value    { return Value{Type: Bool, AsBool: b} }
func NewNumber(n float64) Value { return Value{Type: Number, AsFloat: n} }

func NewString(s *String) Value     { return Value{Type: Object, Obj: s} }
func NewList(l *List) Value         { return Value{Type: Object, Obj: l} }
func NewHashMap(h *HashMap) Value   { return Value{Type: Object, Obj: h} }
func NewFunction(f *Function) Value { return Value{Type: Object, Obj: f} }
func NewClosure(c *Closure) Value   { return Value{Type: Object, Obj: c} }
func NewNative(n *Native) Value     { return Value{Type: Object, Obj: n} }
func NewFile(f *File) Value         { return Value{Type: Object, Obj: f} }
func NewIterator(i *Iterator) Value { return Value{Type: Object, Obj: i} }

func NewStringValue(s string) Value { return NewString(&String{Chars: s}) }

func (v Value) IsNil() bool    { return v.Type == Nil }
func (v Value) IsNumber() bool { return v.Type == Number }
func (v Value) IsBool() bool   { return v.Type == Bool }

func (v Value) objType() (ObjType, bool) {
	switch o := v.Obj.(type) {
	case *String:
		_ = o
		return ObjString, true
	case *List:
		return ObjList, true
	case *HashMap:
		return ObjHashMap, true
	case *Function:
		return ObjFunction, true
	case *Closure:
		return ObjClosure, true
	case *Native:
		return ObjNative, true
	case *File:
		return ObjFile, true
	case *Iterator:
		return ObjIterator, true
	}
	return 0, false
}

func (v Value) IsObjType(t ObjType) bool {
	if v.Type != Object {
		return false
	}
	ot, ok := v.objType()
	return ok && ot == t
}

func (v Value) IsString() bool  { return v.IsObjType(ObjString) }
func (v Value) IsList() bool    { return v.IsObjType(ObjList) }
func (v Value) IsHashMap() bool { return v.IsObjType(ObjHashMap) }
func (v Value) IsCallable() bool {
	return v.IsObjType(ObjClosure) || v.IsObjType(ObjNative)
}

func (v Value) AsString() *String   { return v.Obj.(*String) }
func (v Value) AsList() *List       { return v.Obj.(*List) }
func (v Value) AsHashMap() *HashMap { return v.Obj.(*HashMap) }
func (v Value) AsFunction() *Function { return v.Obj.(*Function) }
func (v Value) AsClosure() *Closure { return v.Obj.(*Closure) }
func (v Value) AsNative() *Native   { return v.Obj.(*Native) }
func (v Value) AsFile() *File       { return v.Obj.(*File) }
func (v Value) AsIterator() *Iterator { return v.Obj.(*Iterator) }

// String (heap, immutable) ---------------------------------------------

type String struct {
	Chars string
}

// List (heap, mutable, shared by reference) ------------------------------

type List struct {
	Items []Value
}

// HashMap (heap, mutable, shared by reference). Keys are always string
// values. Entries live in a Go map, so insertion order is not kept;
// SortedKeys gives the deterministic, sorted-by-key view `props` uses.
type HashMap struct {
	entries map[string]Value
}

func NewEmptyHashMap() *HashMap {
	return &HashMap{entries: make(map[string]Value)}
}

func (h *HashMap) Get(key string) (Value, bool) {
	v, ok := h.entries[key]
	return v, ok
}

func (h *HashMap) Set(key string, v Value) {
	h.entries[key] = v
}

func (h *HashMap) Delete(key string) {
	delete(h.entries, key)
}

func (h *HashMap) Len() int { return len(h.entries) }

// SortedKeys returns the hash-map's keys in lexical order, the order the
// `props` native promises (for-in over hash-maps is unsupported at the
// ITER opcode; iteration order over a map is otherwise undefined).
// SortedKeys returns this hash-map's keys in lexical order, the
// traversal order the `props` native exposes to qatam code.
func (h *HashMap) SortedKeys() []string {
	keys := maps.Keys(h.entries)
	slices.Sort(keys)
	return keys
}

// Function (heap, immutable after compile) ------------------------------

type ArityKind int

const (
	Fixed ArityKind = iota
	Variadic
)

type Arity struct {
	Kind     ArityKind
	Required int
	Optional int
}

// Function is immutable once the compiler finishes emitting it. Chunk
// is interface{} (see package doc); BodyIP marks where the destructuring
// prelude/body begins, after any default-value cascade and variadic
// reduction. Defaults[j] is the entry ip to use when j optional
// arguments were supplied.
type Function struct {
	Name         string
	Chunk        interface{}
	Arity        Arity
	Defaults     []int
	BodyIP       int
	UpvalueCount int
}

// Closure (heap, shares upvalue cells) -----------------------------------

// UpvalueKind distinguishes an Open cell (still pointing at a live
// locals slot) from a Closed one (value copied out, locals-independent).
type UpvalueKind int

const (
	UVOpen UpvalueKind = iota
	UVClosed
)

// Upvalue is the shared cell closures capture. Slot is meaningful only
// while Kind == UVOpen; Closed holds the copied-out value once the
// locals slot it pointed to has gone out of scope.
type Upvalue struct {
	Kind   UpvalueKind
	Slot   int
	Closed Value
}

type Closure struct {
	Function *Function
	Upvalues []*Upvalue
}

// Native (heap) -----------------------------------------------------------

// NativeFn is the interface natives implement: given a frame view and
// argc, return a result value or an error value (which the VM wraps as
// a User runtime error for propagation/catching).
type NativeFn func(frame NativeFrame, argc int) (Value, error)

// NativeFrame is the read-only view a native gets of the calling frame's
// argument window; the vm package supplies the concrete implementation.
type NativeFrame interface {
	Nth(i int) Value
	NthNumber(i int) (float64, error)
	NthString(i int) (*String, error)
	NthList(i int) (*List, error)
	NthHashMap(i int) (*HashMap, error)
	NthFile(i int) (*File, error)
	NthPath(i int) (string, error)
	CheckTrust() error
	Argc() int
}

type Native struct {
	Name string
	Fn   NativeFn
	// Trusted gates natives that touch the outside world (file I/O,
	// folder listing, process exit, env, time): they fail when the VM
	// was constructed with Untrusted=true.
	Trusted bool
}

// File (heap) ---------------------------------------------------------------

type File struct {
	Path   string
	Handle *os.File
	Closed bool
}

// Iterator (heap) -------------------------------------------------------

// Iterator wraps a String or List with an internal cursor. Hash-maps are
// intentionally not iterable at this level (see the `props` native).
type Iterator struct {
	source Value
	index  int
	length int
}

func NewStringIterator(s *String) *Iterator {
	return &Iterator{source: NewString(s), index: 0, length: len([]rune(s.Chars))}
}

func NewListIterator(l *List) *Iterator {
	return &Iterator{source: NewList(l), index: 0, length: len(l.Items)}
}

// Next returns the next element and true, or a zero Value and false when
// exhausted.
func (it *Iterator) Next() (Value, bool) {
	if it.index >= it.length {
		return Value{}, false
	}
	idx := it.index
	it.index++
	switch s := it.source.Obj.(type) {
	case *String:
		r := []rune(s.Chars)
		return NewStringValue(string(r[idx])), true
	case *List:
		return s.Items[idx], true
	}
	return Value{}, false
}

// Truthiness, equality, formatting ---------------------------------------

// IsTruthy implements spec's falsy set: Nil, false, 0, "", [], {}.
func (v Value) IsTruthy() bool {
	switch v.Type {
	case Nil:
		return false
	case Bool:
		return v.AsBool
	case Number:
		return v.AsFloat != 0
	case Object:
		switch o := v.Obj.(type) {
		case *String:
			return o.Chars != ""
		case *List:
			return len(o.Items) > 0
		case *HashMap:
			return o.Len() > 0
		default:
			return true
		}
	}
	return true
}

// Equals implements value equality for primitives/strings and identity
// equality for other heap objects.
func (v Value) Equals(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case Nil:
		return true
	case Bool:
		return v.AsBool == other.AsBool
	case Number:
		return v.AsFloat == other.AsFloat
	case Object:
		vo, vok := v.objType()
		oo, ook := other.objType()
		if !vok || !ook || vo != oo {
			return false
		}
		if vo == ObjString {
			return v.Obj.(*String).Chars == other.Obj.(*String).Chars
		}
		return v.Obj == other.Obj
	}
	return false
}

func (v Value) TypeName() string {
	switch v.Type {
	case Nil:
		return "nil"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case Object:
		switch v.Obj.(type) {
		case *String:
			return "string"
		case *List:
			return "list"
		case *HashMap:
			return "hash-map"
		case *Function:
			return "function"
		case *Closure:
			return "function"
		case *Native:
			return "native"
		case *File:
			return "file"
		case *Iterator:
			return "iterator"
		}
	}
	return "unknown"
}

func formatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if math.IsNaN(n) {
		return "nan"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func (v Value) String() string {
	switch v.Type {
	case Nil:
		return "nil"
	case Bool:
		return fmt.Sprintf("%t", v.AsBool)
	case Number:
		return formatNumber(v.AsFloat)
	case Object:
		switch o := v.Obj.(type) {
		case *String:
			return o.Chars
		case *List:
			parts := make([]string, len(o.Items))
			for i, it := range o.Items {
				parts[i] = it.Repr()
			}
			return "[" + strings.Join(parts, ", ") + "]"
		case *HashMap:
			keys := o.SortedKeys()
			parts := make([]string, len(keys))
			for i, k := range keys {
				val, _ := o.Get(k)
				parts[i] = k + ": " + val.Repr()
			}
			return "{" + strings.Join(parts, ", ") + "}"
		case *Function:
			name := o.Name
			if name == "" {
				name = "anonymous"
			}
			return fmt.Sprintf("<fn %s>", name)
		case *Closure:
			name := o.Function.Name
			if name == "" {
				name = "anonymous"
			}
			return fmt.Sprintf("<fn %s>", name)
		case *Native:
			return fmt.Sprintf("<native fn %s>", o.Name)
		case *File:
			return fmt.Sprintf("<file %s>", o.Path)
		case *Iterator:
			return "<iterator>"
		}
	}
	return "unknown"
}

// Repr renders a value the way it appears nested inside a list/hash-map
// print (strings quoted), as opposed to String() which renders a
// top-level string bare.
func (v Value) Repr() string {
	if v.IsString() {
		return strconv.Quote(v.AsString().Chars)
	}
	return v.String()
}
