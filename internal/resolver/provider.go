package resolver

import "strings"

// MapProvider serves fixed content keyed by dotted name or resource path.
// A value stored under a dotted name is also found by its path form.
type MapProvider map[string]any

func (m MapProvider) Find(name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	if strings.Contains(name, "/") {
		v, ok := m[strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", ".")]
		return v, ok
	}
	return nil, false
}

func (m MapProvider) FindAll(name string) []any {
	if v, ok := m.Find(name); ok {
		return []any{v}
	}
	return nil
}
