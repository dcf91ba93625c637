// Package nbt reads and writes the named binary tag trees embedded in
// auction item payloads.
//
// A decoded tree is made of three node shapes: Primitive, List and Compound.
// Consumers switch on the concrete type; there are no other implementations
// of Tag.
package nbt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind is the on-wire type id of a tag.
type Kind byte

const (
	KindEnd       Kind = 0
	KindByte      Kind = 1
	KindShort     Kind = 2
	KindInt       Kind = 3
	KindLong      Kind = 4
	KindFloat     Kind = 5
	KindDouble    Kind = 6
	KindByteArray Kind = 7
	KindString    Kind = 8
	KindList      Kind = 9
	KindCompound  Kind = 10
	KindIntArray  Kind = 11
	KindLongArray Kind = 12
)

var kindNames = [...]string{
	"End", "Byte", "Short", "Int", "Long", "Float", "Double",
	"ByteArray", "String", "List", "Compound", "IntArray", "LongArray",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Valid reports whether k is a known type id.
func (k Kind) Valid() bool { return k <= KindLongArray }

// Tag is a decoded node.
type Tag interface {
	Kind() Kind
	String() string
	isTag()
}

// Primitive holds a scalar or a primitive array. Value is one of int8, int16,
// int32, int64, float32, float64, string, []byte, []int32 or []int64,
// matching Type.
type Primitive struct {
	Type  Kind
	Value any
}

// List is a homogeneous ordered sequence.
type List struct {
	Elem  Kind
	Items []Tag
}

// Field is one named child of a compound.
type Field struct {
	Name string
	Tag  Tag
}

// Compound is a named set of children kept in wire order.
type Compound struct {
	Fields []Field
}

func (Primitive) isTag() {}
func (List) isTag()      {}
func (Compound) isTag()  {}

func (p Primitive) Kind() Kind { return p.Type }
func (List) Kind() Kind        { return KindList }
func (Compound) Kind() Kind    { return KindCompound }

// Get returns the first child named name.
func (c Compound) Get(name string) (Tag, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f.Tag, true
		}
	}
	return nil, false
}

// Compound returns the child compound named name.
func (c Compound) Compound(name string) (Compound, bool) {
	t, ok := c.Get(name)
	if !ok {
		return Compound{}, false
	}
	sub, ok := t.(Compound)
	return sub, ok
}

// List returns the child list named name.
func (c Compound) List(name string) (List, bool) {
	t, ok := c.Get(name)
	if !ok {
		return List{}, false
	}
	l, ok := t.(List)
	return l, ok
}

// Len is the number of children.
func (c Compound) Len() int { return len(c.Fields) }

// Constructors for primitives, mostly used when building trees to encode.
func Byte(v int8) Primitive         { return Primitive{Type: KindByte, Value: v} }
func Short(v int16) Primitive       { return Primitive{Type: KindShort, Value: v} }
func Int(v int32) Primitive         { return Primitive{Type: KindInt, Value: v} }
func Long(v int64) Primitive        { return Primitive{Type: KindLong, Value: v} }
func Float(v float32) Primitive     { return Primitive{Type: KindFloat, Value: v} }
func Double(v float64) Primitive    { return Primitive{Type: KindDouble, Value: v} }
func String(v string) Primitive     { return Primitive{Type: KindString, Value: v} }
func ByteArray(v []byte) Primitive  { return Primitive{Type: KindByteArray, Value: v} }
func IntArray(v []int32) Primitive  { return Primitive{Type: KindIntArray, Value: v} }
func LongArray(v []int64) Primitive { return Primitive{Type: KindLongArray, Value: v} }

func (p Primitive) String() string {
	switch v := p.Value.(type) {
	case string:
		if utf8.ValidString(v) {
			return v
		}
		return strings.ToValidUTF8(v, "�")
	case float32:
		return formatFloat(float64(v), 32)
	case float64:
		return formatFloat(v, 64)
	case []byte:
		parts := make([]string, len(v))
		for i, b := range v {
			parts[i] = strconv.Itoa(int(int8(b)))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []int32:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.FormatInt(int64(n), 10)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []int64:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

func (l List) String() string {
	parts := make([]string, len(l.Items))
	for i, it := range l.Items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (c Compound) String() string {
	parts := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		parts[i] = f.Name + ": " + f.Tag.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}
