package document

import (
	"strings"
	"time"
)

// Metadata is an open mapping of source-specific fields. Keys are addressed
// by dotted paths ("change.lines_added"); Set creates intermediate maps as
// needed, Get returns nil instead of failing on any missing segment.
type Metadata map[string]any

// Get returns the value at the dotted path, or nil when any segment is
// missing or a non-map value is traversed.
func (m Metadata) Get(path string) any {
	if m == nil || path == "" {
		return nil
	}
	segs := strings.Split(path, ".")
	var cur any = map[string]any(m)
	for _, seg := range segs {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[seg]
		case Metadata:
			cur = node[seg]
		default:
			return nil
		}
	}
	return cur
}

// Set stores the value at the dotted path, creating intermediate maps.
// Existing non-map values along the path are replaced.
func (m Metadata) Set(path string, value any) {
	if m == nil || path == "" {
		return
	}
	segs := strings.Split(path, ".")
	cur := map[string]any(m)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			if md, isMD := cur[seg].(Metadata); isMD {
				next = map[string]any(md)
			} else {
				next = map[string]any{}
				cur[seg] = next
			}
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// GetString returns the string at path, or "" when absent or not a string.
func (m Metadata) GetString(path string) string {
	s, _ := m.Get(path).(string)
	return s
}

// GetTime returns the time at path, or the zero time when absent.
func (m Metadata) GetTime(path string) time.Time {
	t, _ := m.Get(path).(time.Time)
	return t
}
