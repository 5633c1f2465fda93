// Package facts holds the ordered ground-truth values a pipeline stage
// computed. User-facing text must not contradict them.
package facts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
)

// Fact is a single key/value pair.
type Fact struct {
	Key   string
	Value any
}

// Facts is an ordered, immutable mapping. The zero value is empty.
type Facts struct {
	items []Fact
	index map[string]int
}

// New builds Facts from pairs. A repeated key keeps its first position and
// takes the last value.
func New(pairs ...Fact) Facts {
	var b Builder
	for _, p := range pairs {
		b.Set(p.Key, p.Value)
	}
	return b.Build()
}

// Len returns the number of facts.
func (f Facts) Len() int { return len(f.items) }

// Keys returns the keys in insertion order.
func (f Facts) Keys() []string {
	keys := make([]string, len(f.items))
	for i, it := range f.items {
		keys[i] = it.Key
	}
	return keys
}

// Get returns the raw value for key.
func (f Facts) Get(key string) (any, bool) {
	i, ok := f.index[key]
	if !ok {
		return nil, false
	}
	return f.items[i].Value, true
}

// String returns the rendered value for key, or "" when absent.
func (f Facts) String(key string) string {
	v, ok := f.Get(key)
	if !ok {
		return ""
	}
	return Render(v)
}

// All iterates facts in order.
func (f Facts) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, it := range f.items {
			if !yield(it.Key, it.Value) {
				return
			}
		}
	}
}

// With returns a copy of f with key set.
func (f Facts) With(key string, value any) Facts {
	var b Builder
	for _, it := range f.items {
		b.Set(it.Key, it.Value)
	}
	b.Set(key, value)
	return b.Build()
}

// MarshalJSON encodes facts as a JSON object in insertion order.
func (f Facts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, it := range f.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(it.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(it.Value)
		if err != nil {
			return nil, fmt.Errorf("facts: marshal %q: %w", it.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Builder accumulates facts in order.
type Builder struct {
	items []Fact
	index map[string]int
}

// Set adds or replaces key.
func (b *Builder) Set(key string, value any) *Builder {
	if b.index == nil {
		b.index = make(map[string]int)
	}
	if i, ok := b.index[key]; ok {
		b.items[i].Value = value
		return b
	}
	b.index[key] = len(b.items)
	b.items = append(b.items, Fact{Key: key, Value: value})
	return b
}

// Build returns the accumulated facts. The builder may be reused.
func (b *Builder) Build() Facts {
	items := make([]Fact, len(b.items))
	copy(items, b.items)
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.Key] = i
	}
	return Facts{items: items, index: index}
}

// Render converts a scalar to the string that verification searches for.
func Render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}
