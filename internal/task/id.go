// Package task defines the cached task model: identifiers, the append-only
// event log, derived status, and the snapshot type the sync layer merges into.
//
// This is a leaf package with zero external dependencies beyond stdlib.
package task

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ID is an immutable Firefly task identifier. The API encodes it as a JSON
// number; the zero value means "no task".
type ID int64

// ParseID parses a decimal task ID as typed on the command line.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("task: invalid id %q: %w", s, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("task: invalid id %q: must be positive", s)
	}

	return ID(n), nil
}

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == 0
}

// UniqueIDs returns the distinct IDs from all input slices in ascending order.
// Zero IDs are dropped.
func UniqueIDs(sets ...[]ID) []ID {
	seen := make(map[ID]struct{})

	var out []ID

	for _, set := range sets {
		for _, id := range set {
			if id.IsZero() {
				continue
			}

			if _, ok := seen[id]; ok {
				continue
			}

			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	slices.Sort(out)

	return out
}

// FlexString decodes a JSON value that the API sends as either a string or a
// number (resource IDs, marks). It always re-encodes as a string.
type FlexString string

// UnmarshalJSON accepts a JSON string, number, or null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))

	switch {
	case s == "null":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var unq string
		if err := json.Unmarshal(data, &unq); err != nil {
			return fmt.Errorf("task: decoding string value: %w", err)
		}

		*f = FlexString(unq)
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("task: expected string or number, got %s", s)
		}

		*f = FlexString(s)
	}

	return nil
}

// String returns the raw text.
func (f FlexString) String() string {
	return string(f)
}
