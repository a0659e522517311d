// Package natives implements qatam's built-in global function table: the
// pure data/string/math helpers every script gets, plus a trust-gated
// subset that touches files, the environment, the clock, or the
// process. Each gated native enforces the gate itself by calling
// frame.CheckTrust before doing any work.
package natives

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/yosefbeder/qatam/internal/value"
)

// Register installs every native into globals under its qatam-visible
// name.
func Register(globals map[string]value.Value) {
	for name, n := range table {
		n.Name = name
		nCopy := n
		globals[name] = value.NewNative(&nCopy)
	}
}

var table = map[string]value.Native{
	"print":  {Fn: printFn},
	"len":    {Fn: lenFn},
	"push":   {Fn: pushFn},
	"pop":    {Fn: popFn},
	"insert": {Fn: insertFn},
	"remove": {Fn: removeFn},
	"props":  {Fn: propsFn},
	"type":   {Fn: typeFn},
	"str":    {Fn: strFn},
	"num":    {Fn: numFn},

	"floor": {Fn: mathFn(math.Floor)},
	"ceil":  {Fn: mathFn(math.Ceil)},
	"round": {Fn: mathFn(math.Round)},
	"abs":   {Fn: mathFn(math.Abs)},
	"sqrt":  {Fn: mathFn(math.Sqrt)},
	"pow":   {Fn: powFn},
	"max":   {Fn: maxFn},
	"min":   {Fn: minFn},

	"split":    {Fn: splitFn},
	"join":     {Fn: joinFn},
	"trim":     {Fn: trimFn},
	"upper":    {Fn: upperFn},
	"lower":    {Fn: lowerFn},
	"replace":  {Fn: replaceFn},
	"contains": {Fn: containsFn},
	"index_of": {Fn: indexOfFn},
	"slice":    {Fn: sliceFn},
	"ord":      {Fn: ordFn},
	"chr":      {Fn: chrFn},

	"read_line":   {Fn: readLineFn, Trusted: true},
	"read_file":   {Fn: readFileFn, Trusted: true},
	"write_file":  {Fn: writeFileFn, Trusted: true},
	"append_file": {Fn: appendFileFn, Trusted: true},
	"exists":      {Fn: existsFn, Trusted: true},
	"remove_file": {Fn: removeFileFn, Trusted: true},
	"list_dir":    {Fn: listDirFn, Trusted: true},
	"env":         {Fn: envFn, Trusted: true},
	"time":        {Fn: timeFn, Trusted: true},
	"sleep":       {Fn: sleepFn, Trusted: true},
	"exit":        {Fn: exitFn, Trusted: true},
}

func printFn(frame value.NativeFrame, argc int) (value.Value, error) {
	parts := make([]string, argc)
	for i := 0; i < argc; i++ {
		parts[i] = frame.Nth(i).String()
	}
	fmt.Println(strings.Join(parts, " "))
	return value.NewNil(), nil
}

func lenFn(frame value.NativeFrame, argc int) (value.Value, error) {
	v := frame.Nth(0)
	switch {
	case v.IsString():
		return value.NewNumber(float64(len([]rune(v.AsString().Chars)))), nil
	case v.IsList():
		return value.NewNumber(float64(len(v.AsList().Items))), nil
	case v.IsHashMap():
		return value.NewNumber(float64(v.AsHashMap().Len())), nil
	}
	return value.Value{}, fmt.Errorf("len expects a string, list, or hash-map, got %s", v.TypeName())
}

func pushFn(frame value.NativeFrame, argc int) (value.Value, error) {
	list, err := frame.NthList(0)
	if err != nil {
		return value.Value{}, err
	}
	list.Items = append(list.Items, frame.Nth(1))
	return value.NewNil(), nil
}

func popFn(frame value.NativeFrame, argc int) (value.Value, error) {
	list, err := frame.NthList(0)
	if err != nil {
		return value.Value{}, err
	}
	if len(list.Items) == 0 {
		return value.Value{}, fmt.Errorf("pop on an empty list")
	}
	last := list.Items[len(list.Items)-1]
	list.Items = list.Items[:len(list.Items)-1]
	return last, nil
}

func insertFn(frame value.NativeFrame, argc int) (value.Value, error) {
	list, err := frame.NthList(0)
	if err != nil {
		return value.Value{}, err
	}
	idx, err := frame.NthNumber(1)
	if err != nil {
		return value.Value{}, err
	}
	i := int(idx)
	if i < 0 || i > len(list.Items) {
		return value.Value{}, fmt.Errorf("insert index out of range")
	}
	val := frame.Nth(2)
	list.Items = append(list.Items, value.Value{})
	copy(list.Items[i+1:], list.Items[i:])
	list.Items[i] = val
	return value.NewNil(), nil
}

func removeFn(frame value.NativeFrame, argc int) (value.Value, error) {
	v := frame.Nth(0)
	switch {
	case v.IsList():
		idx, err := frame.NthNumber(1)
		if err != nil {
			return value.Value{}, err
		}
		list := v.AsList()
		i := int(idx)
		if i < 0 || i >= len(list.Items) {
			return value.Value{}, fmt.Errorf("remove index out of range")
		}
		removed := list.Items[i]
		list.Items = append(list.Items[:i], list.Items[i+1:]...)
		return removed, nil
	case v.IsHashMap():
		key, err := frame.NthString(1)
		if err != nil {
			return value.Value{}, err
		}
		v.AsHashMap().Delete(key.Chars)
		return value.NewNil(), nil
	}
	return value.Value{}, fmt.Errorf("remove expects a list or hash-map, got %s", v.TypeName())
}

// propsFn returns a hash-map's entries as a list of [key, value] pairs
// sorted by key, the documented way to traverse a hash-map in a defined
// order (hash-maps aren't otherwise iterable with `for .. in`).
func propsFn(frame value.NativeFrame, argc int) (value.Value, error) {
	h, err := frame.NthHashMap(0)
	if err != nil {
		return value.Value{}, err
	}
	keys := h.SortedKeys()
	items := make([]value.Value, len(keys))
	for i, k := range keys {
		v, _ := h.Get(k)
		items[i] = value.NewList(&value.List{Items: []value.Value{value.NewStringValue(k), v}})
	}
	return value.NewList(&value.List{Items: items}), nil
}

func typeFn(frame value.NativeFrame, argc int) (value.Value, error) {
	return value.NewStringValue(frame.Nth(0).TypeName()), nil
}

func strFn(frame value.NativeFrame, argc int) (value.Value, error) {
	return value.NewStringValue(frame.Nth(0).String()), nil
}

func numFn(frame value.NativeFrame, argc int) (value.Value, error) {
	v := frame.Nth(0)
	if v.IsNumber() {
		return v, nil
	}
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s.Chars), 64)
	if err != nil {
		return value.Value{}, fmt.Errorf("'%s' is not a valid number", s.Chars)
	}
	return value.NewNumber(n), nil
}

func mathFn(f func(float64) float64) value.NativeFn {
	return func(frame value.NativeFrame, argc int) (value.Value, error) {
		n, err := frame.NthNumber(0)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewNumber(f(n)), nil
	}
}

func powFn(frame value.NativeFrame, argc int) (value.Value, error) {
	base, err := frame.NthNumber(0)
	if err != nil {
		return value.Value{}, err
	}
	exp, err := frame.NthNumber(1)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewNumber(math.Pow(base, exp)), nil
}

func maxFn(frame value.NativeFrame, argc int) (value.Value, error) {
	best := math.Inf(-1)
	for i := 0; i < argc; i++ {
		n, err := frame.NthNumber(i)
		if err != nil {
			return value.Value{}, err
		}
		if n > best {
			best = n
		}
	}
	return value.NewNumber(best), nil
}

func minFn(frame value.NativeFrame, argc int) (value.Value, error) {
	best := math.Inf(1)
	for i := 0; i < argc; i++ {
		n, err := frame.NthNumber(i)
		if err != nil {
			return value.Value{}, err
		}
		if n < best {
			best = n
		}
	}
	return value.NewNumber(best), nil
}

func splitFn(frame value.NativeFrame, argc int) (value.Value, error) {
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	sep, err := frame.NthString(1)
	if err != nil {
		return value.Value{}, err
	}
	parts := strings.Split(s.Chars, sep.Chars)
	items := make([]value.Value, len(parts))
	for i, p := range parts {
		items[i] = value.NewStringValue(p)
	}
	return value.NewList(&value.List{Items: items}), nil
}

func joinFn(frame value.NativeFrame, argc int) (value.Value, error) {
	list, err := frame.NthList(0)
	if err != nil {
		return value.Value{}, err
	}
	sep, err := frame.NthString(1)
	if err != nil {
		return value.Value{}, err
	}
	parts := make([]string, len(list.Items))
	for i, v := range list.Items {
		parts[i] = v.String()
	}
	return value.NewStringValue(strings.Join(parts, sep.Chars)), nil
}

func trimFn(frame value.NativeFrame, argc int) (value.Value, error) {
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewStringValue(strings.TrimSpace(s.Chars)), nil
}

func upperFn(frame value.NativeFrame, argc int) (value.Value, error) {
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewStringValue(strings.ToUpper(s.Chars)), nil
}

func lowerFn(frame value.NativeFrame, argc int) (value.Value, error) {
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewStringValue(strings.ToLower(s.Chars)), nil
}

func replaceFn(frame value.NativeFrame, argc int) (value.Value, error) {
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	old, err := frame.NthString(1)
	if err != nil {
		return value.Value{}, err
	}
	newS, err := frame.NthString(2)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewStringValue(strings.ReplaceAll(s.Chars, old.Chars, newS.Chars)), nil
}

func containsFn(frame value.NativeFrame, argc int) (value.Value, error) {
	v := frame.Nth(0)
	switch {
	case v.IsString():
		needle, err := frame.NthString(1)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBool(strings.Contains(v.AsString().Chars, needle.Chars)), nil
	case v.IsList():
		target := frame.Nth(1)
		for _, it := range v.AsList().Items {
			if it.Equals(target) {
				return value.NewBool(true), nil
			}
		}
		return value.NewBool(false), nil
	}
	return value.Value{}, fmt.Errorf("contains expects a string or list, got %s", v.TypeName())
}

func indexOfFn(frame value.NativeFrame, argc int) (value.Value, error) {
	v := frame.Nth(0)
	if v.IsList() {
		target := frame.Nth(1)
		for i, it := range v.AsList().Items {
			if it.Equals(target) {
				return value.NewNumber(float64(i)), nil
			}
		}
		return value.NewNumber(-1), nil
	}
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	needle, err := frame.NthString(1)
	if err != nil {
		return value.Value{}, err
	}
	idx := strings.Index(s.Chars, needle.Chars)
	if idx < 0 {
		return value.NewNumber(-1), nil
	}
	return value.NewNumber(float64(len([]rune(s.Chars[:idx])))), nil
}

func sliceFn(frame value.NativeFrame, argc int) (value.Value, error) {
	start, err := frame.NthNumber(1)
	if err != nil {
		return value.Value{}, err
	}
	end, err := frame.NthNumber(2)
	if err != nil {
		return value.Value{}, err
	}
	v := frame.Nth(0)
	if v.IsList() {
		items := v.AsList().Items
		s, e := clampRange(int(start), int(end), len(items))
		out := make([]value.Value, e-s)
		copy(out, items[s:e])
		return value.NewList(&value.List{Items: out}), nil
	}
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	runes := []rune(s.Chars)
	from, to := clampRange(int(start), int(end), len(runes))
	return value.NewStringValue(string(runes[from:to])), nil
}

func clampRange(start, end, length int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > length {
		end = length
	}
	if start > end {
		start = end
	}
	return start, end
}

func ordFn(frame value.NativeFrame, argc int) (value.Value, error) {
	s, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	runes := []rune(s.Chars)
	if len(runes) == 0 {
		return value.Value{}, fmt.Errorf("ord expects a non-empty string")
	}
	return value.NewNumber(float64(runes[0])), nil
}

func chrFn(frame value.NativeFrame, argc int) (value.Value, error) {
	n, err := frame.NthNumber(0)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewStringValue(string(rune(int(n)))), nil
}

// --- trust-gated natives ---

func readLineFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return value.NewStringValue(strings.TrimRight(line, "\r\n")), nil
}

func readFileFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	path, err := frame.NthPath(0)
	if err != nil {
		return value.Value{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewStringValue(string(data)), nil
}

func writeFileFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	path, err := frame.NthPath(0)
	if err != nil {
		return value.Value{}, err
	}
	content, err := frame.NthString(1)
	if err != nil {
		return value.Value{}, err
	}
	if err := os.WriteFile(path, []byte(content.Chars), 0o644); err != nil {
		return value.Value{}, err
	}
	return value.NewNil(), nil
}

func appendFileFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	path, err := frame.NthPath(0)
	if err != nil {
		return value.Value{}, err
	}
	content, err := frame.NthString(1)
	if err != nil {
		return value.Value{}, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return value.Value{}, err
	}
	defer f.Close()
	if _, err := f.WriteString(content.Chars); err != nil {
		return value.Value{}, err
	}
	return value.NewNil(), nil
}

func existsFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	path, err := frame.NthPath(0)
	if err != nil {
		return value.Value{}, err
	}
	_, statErr := os.Stat(path)
	return value.NewBool(statErr == nil), nil
}

func removeFileFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	path, err := frame.NthPath(0)
	if err != nil {
		return value.Value{}, err
	}
	if err := os.Remove(path); err != nil {
		return value.Value{}, err
	}
	return value.NewNil(), nil
}

func listDirFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	path, err := frame.NthPath(0)
	if err != nil {
		return value.Value{}, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return value.Value{}, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	slices.Sort(names)
	items := make([]value.Value, len(names))
	for i, n := range names {
		items[i] = value.NewStringValue(n)
	}
	return value.NewList(&value.List{Items: items}), nil
}

func envFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	name, err := frame.NthString(0)
	if err != nil {
		return value.Value{}, err
	}
	v, ok := os.LookupEnv(name.Chars)
	if !ok {
		return value.NewNil(), nil
	}
	return value.NewStringValue(v), nil
}

func timeFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	return value.NewNumber(float64(time.Now().UnixMilli()) / 1000), nil
}

func sleepFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	secs, err := frame.NthNumber(0)
	if err != nil {
		return value.Value{}, err
	}
	time.Sleep(time.Duration(secs * float64(time.Second)))
	return value.NewNil(), nil
}

func exitFn(frame value.NativeFrame, argc int) (value.Value, error) {
	if err := frame.CheckTrust(); err != nil {
		return value.Value{}, err
	}
	code := 0
	if argc > 0 {
		n, err := frame.NthNumber(0)
		if err == nil {
			code = int(n)
		}
	}
	os.Exit(code)
	return value.NewNil(), nil
}
