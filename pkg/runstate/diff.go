package runstate

import (
	"reflect"
	"sort"
)

// Diff returns the top-level keys of after that are new or changed since
// before, and the keys before had that after dropped.
func Diff(before, after map[string]any) (set map[string]any, unset []string) {
	for k, v := range after {
		if old, ok := before[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		if set == nil {
			set = make(map[string]any)
		}
		set[k] = copyValue(v)
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			unset = append(unset, k)
		}
	}
	sort.Strings(unset)
	return set, unset
}

// Apply replays a Diff: keys in set replace their top-level values and keys in
// unset are removed.
func (s *State) Apply(set map[string]any, unset []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]any)
	}
	for k, v := range set {
		s.data[k] = copyValue(v)
	}
	for _, k := range unset {
		delete(s.data, k)
	}
}
