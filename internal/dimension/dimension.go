// Package dimension models the key/value labels attached to metric lines.
//
// Keys and values are normalized on the way in, lists keep first-insertion
// order, and merging applies precedence by letting later lists overwrite
// values of earlier ones.
package dimension

// Dimension is a single normalized key/value pair.
type Dimension struct {
	Key   string
	Value string
}

// New normalizes key and value into a Dimension. It returns false when the
// key is empty after normalization.
func New(key, value string) (Dimension, bool) {
	k, ok := NormalizeKey(key)
	if !ok {
		return Dimension{}, false
	}

	return Dimension{Key: k, Value: NormalizeValue(value)}, true
}

// List is an ordered set of dimensions with unique keys. The zero value is
// an empty list. A List is never mutated after it has been built.
type List struct {
	dims  []Dimension
	index map[string]int
}

// NewList builds a List from already normalized dimensions. Duplicate keys
// keep the position of their first occurrence and the value of their last.
func NewList(dims ...Dimension) List {
	var b builder
	for _, d := range dims {
		b.set(d)
	}

	return b.list()
}

// Normalize builds a List from raw key/value pairs. Pairs whose key cannot
// be normalized are skipped and counted in the returned int.
func Normalize(raw ...Dimension) (List, int) {
	var (
		b        builder
		rejected int
	)

	for _, r := range raw {
		d, ok := New(r.Key, r.Value)
		if !ok {
			rejected++

			continue
		}

		b.set(d)
	}

	return b.list(), rejected
}

// Len returns the number of dimensions in the list.
func (l List) Len() int {
	return len(l.dims)
}

// Dimensions returns a copy of the dimensions in iteration order.
func (l List) Dimensions() []Dimension {
	out := make([]Dimension, len(l.dims))
	copy(out, l.dims)

	return out
}

// Get returns the value stored for key.
func (l List) Get(key string) (string, bool) {
	i, ok := l.index[key]
	if !ok {
		return "", false
	}

	return l.dims[i].Value, true
}

// Range calls fn for each dimension in order until fn returns false.
func (l List) Range(fn func(d Dimension) bool) {
	for _, d := range l.dims {
		if !fn(d) {
			return
		}
	}
}

// Merge combines lists in ascending precedence: a key present in a later
// list overwrites the value from an earlier one. Output order follows the
// first time each key was seen.
func Merge(lists ...List) List {
	size := 0
	for _, l := range lists {
		size += l.Len()
	}

	b := builder{
		dims:  make([]Dimension, 0, size),
		index: make(map[string]int, size),
	}

	for _, l := range lists {
		for _, d := range l.dims {
			b.set(d)
		}
	}

	return b.list()
}

type builder struct {
	dims  []Dimension
	index map[string]int
}

func (b *builder) set(d Dimension) {
	if b.index == nil {
		b.index = make(map[string]int)
	}

	if i, ok := b.index[d.Key]; ok {
		b.dims[i].Value = d.Value

		return
	}

	b.index[d.Key] = len(b.dims)
	b.dims = append(b.dims, d)
}

func (b *builder) list() List {
	return List{dims: b.dims, index: b.index}
}
