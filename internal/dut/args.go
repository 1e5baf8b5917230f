package dut

import (
	"fmt"
	"strings"

	"github.com/danmuck/dutctl/internal/protocol"
)

type ValueKind int

const (
	ValueEmpty ValueKind = iota
	ValueString
	ValueFilePath
	ValueStringList
	ValueFilePathList
)

// Value is one emulator argument value.
type Value struct {
	Kind ValueKind
	Str  string
	List []string
}

func Empty() Value                       { return Value{Kind: ValueEmpty} }
func String(s string) Value              { return Value{Kind: ValueString, Str: s} }
func FilePath(p string) Value            { return Value{Kind: ValueFilePath, Str: p} }
func StringList(items ...string) Value   { return Value{Kind: ValueStringList, List: items} }
func FilePathList(items ...string) Value { return Value{Kind: ValueFilePathList, List: items} }

// Render returns the command-line form of the value, or "" for Empty.
func (v Value) Render() string {
	switch v.Kind {
	case ValueString, ValueFilePath:
		return v.Str
	case ValueStringList, ValueFilePathList:
		return strings.Join(v.List, ",")
	default:
		return ""
	}
}

func (v Value) clone() Value {
	if v.List != nil {
		v.List = append([]string(nil), v.List...)
	}
	return v
}

// Args is an insertion-ordered argument map. Overwriting a key keeps its
// original position.
type Args struct {
	keys   []string
	values map[string]Value
}

func NewArgs() *Args {
	return &Args{values: make(map[string]Value)}
}

func (a *Args) Set(key string, v Value) {
	if a.values == nil {
		a.values = make(map[string]Value)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = v
}

func (a *Args) Get(key string) (Value, bool) {
	if a == nil {
		return Value{}, false
	}
	v, ok := a.values[key]
	return v, ok
}

func (a *Args) Delete(key string) {
	if a == nil {
		return
	}
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

func (a *Args) Keys() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.keys...)
}

func (a *Args) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

func (a *Args) Clone() *Args {
	out := NewArgs()
	if a == nil {
		return out
	}
	for _, k := range a.keys {
		out.Set(k, a.values[k].clone())
	}
	return out
}

// Merge copies every entry of other into a, in other's order.
func (a *Args) Merge(other *Args) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		a.Set(k, other.values[k].clone())
	}
}

// CommandLine renders the arguments as `--key`, `--key value` or `--key a,b`.
func (a *Args) CommandLine() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, 2*len(a.keys))
	for _, k := range a.keys {
		v := a.values[k]
		out = append(out, "--"+k)
		if v.Kind != ValueEmpty {
			out = append(out, v.Render())
		}
	}
	return out
}

// Wire returns the ordered pairs carried by a Start or Restart request.
func (a *Args) Wire() []protocol.Arg {
	if a == nil || len(a.keys) == 0 {
		return nil
	}
	out := make([]protocol.Arg, 0, len(a.keys))
	for _, k := range a.keys {
		out = append(out, protocol.Arg{Key: k, Value: a.values[k].Render()})
	}
	return out
}

// ArgsFromWire rebuilds Args from request pairs. An empty value decodes as
// Empty and a comma separated value as StringList.
func ArgsFromWire(pairs []protocol.Arg) *Args {
	out := NewArgs()
	for _, p := range pairs {
		out.Set(p.Key, ParseValue(p.Value))
	}
	return out
}

// ParseValue classifies a textual value.
func ParseValue(raw string) Value {
	switch {
	case raw == "":
		return Empty()
	case strings.Contains(raw, ","):
		return StringList(strings.Split(raw, ",")...)
	default:
		return String(raw)
	}
}

// ParseAssignment parses "key=value" or a bare "key".
func ParseAssignment(raw string) (string, Value, error) {
	key, value, _ := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", Value{}, fmt.Errorf("%w: empty argument name in %q", ErrInvalidArgument, raw)
	}
	return key, ParseValue(value), nil
}

func (a *Args) String() string {
	return strings.Join(a.CommandLine(), " ")
}
