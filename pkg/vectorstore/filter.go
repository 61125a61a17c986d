// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"encoding/json"
	"strings"

	"github.com/jllopis/recall/pkg/errors"
)

// Filter is a single metadata equality constraint. A nil *Filter matches
// everything.
type Filter struct {
	Field string
	Value string
}

// Match returns a filter requiring metadata[field] == value.
func Match(field, value string) *Filter {
	return &Filter{Field: field, Value: value}
}

// SourceFilter restricts results to one originating document.
func SourceFilter(source string) *Filter {
	return Match(KeySource, source)
}

// ParseFilter decodes the wire shape {"source": "doc.pdf"}. An empty input
// or an empty object means no filter.
func ParseFilter(data []byte) (*Filter, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "filter must be a JSON object of one string field", err)
	}
	switch len(raw) {
	case 0:
		return nil, nil
	case 1:
		for field, value := range raw {
			f := Match(field, value)
			if err := f.validate(); err != nil {
				return nil, err
			}
			return f, nil
		}
	}
	return nil, errors.Newf(errors.CodeInvalidInput, "filter supports exactly one field, got %d", len(raw))
}

// MarshalJSON renders the wire shape.
func (f *Filter) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]string{f.Field: f.Value})
}

// UnmarshalJSON accepts the same wire shape MarshalJSON writes. An empty
// object or null leaves f as the zero filter.
func (f *Filter) UnmarshalJSON(data []byte) error {
	parsed, err := ParseFilter(data)
	if err != nil {
		return err
	}
	if parsed == nil {
		*f = Filter{}
		return nil
	}
	*f = *parsed
	return nil
}

// Matches reports whether m satisfies the filter. A missing field never
// matches.
func (f *Filter) Matches(m Metadata) bool {
	if f == nil {
		return true
	}
	v, ok := m[f.Field]
	return ok && v == f.Value
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.Field + "=" + f.Value
}

func (f *Filter) validate() error {
	if f == nil {
		return nil
	}
	if f.Field == "" {
		return errors.New(errors.CodeInvalidInput, "filter field must not be empty", nil)
	}
	return nil
}

// applyFilter keeps matching candidates in their ranked order.
func applyFilter(candidates []Candidate, f *Filter) []Candidate {
	if f == nil {
		return candidates
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if f.Matches(c.Metadata) {
			kept = append(kept, c)
		}
	}
	return kept
}
