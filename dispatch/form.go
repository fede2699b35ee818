package dispatch

import (
	"net/url"
	"sort"
	"strings"
)

// Form is the flat key-to-values mapping parsed from a request body or
// query string. Dotted keys address nested embedded fields; keys with a
// "[]" suffix carry list-append or association semantics.
type Form map[string][]string

// FormFromValues copies parsed url.Values into a Form.
func FormFromValues(values url.Values) Form {
	f := Form{}
	for key, vals := range values {
		f[key] = append([]string(nil), vals...)
	}
	return f
}

// Get returns the first value for key, or the empty string.
func (f Form) Get(key string) string {
	if vals := f[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Pop removes key and returns its first value.
func (f Form) Pop(key string) string {
	v := f.Get(key)
	delete(f, key)
	return v
}

// SortedKeys returns the form's keys in a stable order so field
// assignments (and the delta built from them) are deterministic.
func (f Form) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// HasListKeys reports whether any key uses the bracket-list syntax.
func (f Form) HasListKeys() bool {
	for key := range f {
		if strings.HasSuffix(key, "[]") {
			return true
		}
	}
	return false
}

// Filters returns the remaining entries as store filter criteria.
func (f Form) Filters() map[string]string {
	filters := map[string]string{}
	for key := range f {
		filters[key] = f.Get(key)
	}
	return filters
}
