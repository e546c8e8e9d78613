package sequence

import (
	"fmt"
	"reflect"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is a keyed collection that remembers insertion order.
//
// Iterator steps accept it as their collection and hand their results back in one.
// A map built from a slice or an array is a list: its keys are the indices.
type Map struct {
	entries *orderedmap.OrderedMap[Value, Value]
	list    bool
}

// NewMap creates an empty keyed map
func NewMap() *Map {
	return &Map{entries: orderedmap.New[Value, Value]()}
}

func newList() *Map {
	m := NewMap()
	m.list = true
	return m
}

// MapOf builds a map from key, value pairs
func MapOf(pairs ...Value) *Map {
	if len(pairs)%2 != 0 {
		panic("sequence: MapOf needs an even number of arguments")
	}
	m := NewMap()
	for i := 0; i < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// Set the value for a key, a new key is appended at the end
func (m *Map) Set(key, value Value) *Map {
	m.entries.Set(key, value)
	return m
}

// Get the value for a key
func (m *Map) Get(key Value) (Value, bool) {
	return m.entries.Get(key)
}

// Len returns the number of entries
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return m.entries.Len()
}

// IsList is true when the map was produced from a slice or an array
func (m *Map) IsList() bool { return m != nil && m.list }

// Each calls fn for every entry in order until fn returns false
func (m *Map) Each(fn func(key, value Value) bool) {
	if m == nil {
		return
	}
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Keys in order
func (m *Map) Keys() []Value {
	keys := make([]Value, 0, m.Len())
	m.Each(func(k, _ Value) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Values in key order
func (m *Map) Values() []Value {
	values := make([]Value, 0, m.Len())
	m.Each(func(_, v Value) bool {
		values = append(values, v)
		return true
	})
	return values
}

func (m *Map) String() string {
	open, shut := "{", "}"
	if m.IsList() {
		open, shut = "[", "]"
	}
	s := open
	first := true
	m.Each(func(k, v Value) bool {
		if !first {
			s += " "
		}
		first = false
		s += fmt.Sprintf("%v:%v", k, v)
		return true
	})
	return s + shut
}

type entry struct {
	key   Value
	value Value
}

// entriesOf flattens an iterable collection into its entries in iteration order.
// Go maps have no insertion order, their keys are sorted instead.
func entriesOf(collection Value) ([]entry, bool, error) {
	switch c := collection.(type) {
	case *Map:
		if c == nil {
			break
		}
		res := make([]entry, 0, c.Len())
		c.Each(func(k, v Value) bool {
			res = append(res, entry{k, v})
			return true
		})
		return res, c.list, nil
	case Args:
		return listEntries(reflect.ValueOf([]Value(c))), true, nil
	}

	rv := reflect.ValueOf(collection)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return listEntries(rv), true, nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
		res := make([]entry, 0, len(keys))
		for _, k := range keys {
			res = append(res, entry{k.Interface(), rv.MapIndex(k).Interface()})
		}
		return res, false, nil
	}
	return nil, false, fmt.Errorf("first argument must be iterable, got %T", collection)
}

func listEntries(rv reflect.Value) []entry {
	res := make([]entry, rv.Len())
	for i := range res {
		res[i] = entry{i, rv.Index(i).Interface()}
	}
	return res
}

func lessKey(a, b reflect.Value) bool {
	if a.Kind() == reflect.Interface {
		a = a.Elem()
	}
	if b.Kind() == reflect.Interface {
		b = b.Elem()
	}
	if !a.IsValid() || !b.IsValid() {
		return !a.IsValid() && b.IsValid()
	}
	if a.Kind() == b.Kind() {
		switch a.Kind() {
		case reflect.String:
			return a.String() < b.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() < b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return a.Uint() < b.Uint()
		case reflect.Float32, reflect.Float64:
			return a.Float() < b.Float()
		}
	}
	return fmt.Sprint(a.Interface()) < fmt.Sprint(b.Interface())
}
