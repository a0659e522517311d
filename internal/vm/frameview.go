package vm

import (
	"errors"
	"path/filepath"

	"github.com/yosefbeder/qatam/internal/value"
)

// frameView is the concrete value.NativeFrame a native function sees:
// a read-only window over the arguments it was called with, plus the
// trust gate computed from the VM's Config and the native's own
// Trusted flag.
type frameView struct {
	vm        *VM
	args      []value.Value
	untrusted bool
	trusted   bool
}

func (f *frameView) Argc() int { return len(f.args) }

func (f *frameView) Nth(i int) value.Value {
	if i < 0 || i >= len(f.args) {
		return value.NewNil()
	}
	return f.args[i]
}

func (f *frameView) NthNumber(i int) (float64, error) {
	v := f.Nth(i)
	if !v.IsNumber() {
		return 0, errors.New("argument must be a number")
	}
	return v.AsFloat, nil
}

func (f *frameView) NthString(i int) (*value.String, error) {
	v := f.Nth(i)
	if !v.IsString() {
		return nil, errors.New("argument must be a string")
	}
	return v.AsString(), nil
}

func (f *frameView) NthList(i int) (*value.List, error) {
	v := f.Nth(i)
	if !v.IsList() {
		return nil, errors.New("argument must be a list")
	}
	return v.AsList(), nil
}

func (f *frameView) NthHashMap(i int) (*value.HashMap, error) {
	v := f.Nth(i)
	if !v.IsHashMap() {
		return nil, errors.New("argument must be a hash-map")
	}
	return v.AsHashMap(), nil
}

func (f *frameView) NthFile(i int) (*value.File, error) {
	v := f.Nth(i)
	if !v.IsObjType(value.ObjFile) {
		return nil, errors.New("argument must be a file")
	}
	return v.Obj.(*value.File), nil
}

// NthPath reads a string argument and cleans it as a filesystem path
// with filepath.Clean; natives that touch the filesystem use this
// instead of NthString. No other validation is done.
func (f *frameView) NthPath(i int) (string, error) {
	s, err := f.NthString(i)
	if err != nil {
		return "", err
	}
	return filepath.Clean(s.Chars), nil
}

// CheckTrust returns an error when this native is gated (Trusted) and
// the VM was constructed with Untrusted=true.
func (f *frameView) CheckTrust() error {
	if f.trusted && f.untrusted {
		return errors.New("this operation is disabled in untrusted mode")
	}
	return nil
}
