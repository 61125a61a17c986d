// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/recall/pkg/errors"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Filter
		wantErr bool
	}{
		{name: "empty input", input: "", want: nil},
		{name: "empty object", input: "{}", want: nil},
		{name: "source", input: `{"source": "doc.pdf"}`, want: &Filter{Field: "source", Value: "doc.pdf"}},
		{name: "custom field", input: `{"lang":"en"}`, want: &Filter{Field: "lang", Value: "en"}},
		{name: "two fields", input: `{"source":"a","lang":"en"}`, wantErr: true},
		{name: "non-string value", input: `{"page": 3}`, wantErr: true},
		{name: "empty field", input: `{"": "x"}`, wantErr: true},
		{name: "not an object", input: `["source"]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterMatches(t *testing.T) {
	m := Metadata{KeyText: "t", KeySource: "b.txt"}

	var none *Filter
	assert.True(t, none.Matches(m))
	assert.True(t, SourceFilter("b.txt").Matches(m))
	assert.False(t, SourceFilter("a.txt").Matches(m))
	assert.False(t, Match("lang", "").Matches(m), "absent field must not match an empty value")
}

func TestFilterMarshalJSON(t *testing.T) {
	data, err := json.Marshal(SourceFilter("doc.pdf"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"doc.pdf"}`, string(data))

	back, err := ParseFilter(data)
	require.NoError(t, err)
	assert.Equal(t, SourceFilter("doc.pdf"), back)
}

func TestFilterUnmarshalJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(SourceFilter("doc.pdf"))
	require.NoError(t, err)

	var f Filter
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, *SourceFilter("doc.pdf"), f)

	type request struct {
		Filter *Filter `json:"filter,omitempty"`
	}
	in := request{Filter: Match("lang", "en")}
	data, err = json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"filter":{"lang":"en"}}`, string(data))

	var out request
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestFilterUnmarshalJSONRejectsInvalid(t *testing.T) {
	var f Filter
	err := json.Unmarshal([]byte(`{"a":"1","b":"2"}`), &f)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	require.NoError(t, json.Unmarshal([]byte(`{}`), &f))
	assert.Equal(t, Filter{}, f)
}
