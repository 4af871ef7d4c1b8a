package dimension

import "strconv"

// Kind identifies the type held by an AttributeValue.
type Kind uint8

// Attribute value kinds.
const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindSlice
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindSlice:
		return "slice"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// AttributeValue is a tagged union of the primitive attribute types an
// instrument may report.
type AttributeValue struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

// StringValue wraps a string attribute value.
func StringValue(v string) AttributeValue { return AttributeValue{kind: KindString, s: v} }

// IntValue wraps an integer attribute value.
func IntValue(v int64) AttributeValue { return AttributeValue{kind: KindInt, i: v} }

// FloatValue wraps a floating point attribute value.
func FloatValue(v float64) AttributeValue { return AttributeValue{kind: KindFloat, f: v} }

// BoolValue wraps a boolean attribute value.
func BoolValue(v bool) AttributeValue { return AttributeValue{kind: KindBool, b: v} }

// SliceValue wraps a list attribute value in its rendered form.
func SliceValue(rendered string) AttributeValue { return AttributeValue{kind: KindSlice, s: rendered} }

// Kind returns the type of the held value.
func (v AttributeValue) Kind() Kind { return v.kind }

// AsString returns the string variant. ok is false for any other kind.
func (v AttributeValue) AsString() (s string, ok bool) {
	if v.kind != KindString {
		return "", false
	}

	return v.s, true
}

// Attribute is an instrument attribute as reported upstream.
type Attribute struct {
	Key   string
	Value AttributeValue
}

// String is shorthand for a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: StringValue(value)}
}

// Discarded counts attributes that did not make it into a List.
type Discarded struct {
	// NonString attributes carried a non-string value.
	NonString int
	// InvalidKey attributes had a key that normalized to nothing.
	InvalidKey int
}

// Total returns the number of discarded attributes.
func (d Discarded) Total() int {
	return d.NonString + d.InvalidKey
}

// FromAttributes converts instrument attributes to a List. Only the string
// variant is honored; every other kind is discarded and counted.
func FromAttributes(attrs []Attribute) (List, Discarded) {
	var (
		b         builder
		discarded Discarded
	)

	for _, a := range attrs {
		s, ok := a.Value.AsString()
		if !ok {
			discarded.NonString++

			continue
		}

		d, ok := New(a.Key, s)
		if !ok {
			discarded.InvalidKey++

			continue
		}

		b.set(d)
	}

	return b.list(), discarded
}
