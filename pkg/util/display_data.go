package util

import (
	"sort"
	"strings"
)

// DisplayData contains a set of human readable properties of an object
// that is part of a pipeline, such as its configuration parameters.
// It can be used to log what a writer or reader is about to do.
type DisplayData map[string]string

// Merge copies all items of another DisplayData object into this one,
// while prepending a prefix to their keys.
func (dd DisplayData) Merge(prefix string, other DisplayData) {
	for key, value := range other {
		dd[prefix+key] = value
	}
}

func (dd DisplayData) String() string {
	keys := make([]string, 0, len(dd))
	for key := range dd {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(dd[key])
	}
	return sb.String()
}
