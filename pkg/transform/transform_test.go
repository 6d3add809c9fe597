// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package transform

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func encode(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestDescriptor_Apply(t *testing.T) {
	input := `{"data":{"patients":[{"id":"p1","name":"Ann"},{"id":"p2","name":"Bob"}],"total":2},"meta":{"source":"north"}}`

	tests := []struct {
		name string
		desc Descriptor
		want string
	}{
		{
			name: "identity",
			desc: Descriptor{},
			want: input,
		},
		{
			name: "copy into fresh object",
			desc: Descriptor{Ops: []Op{
				{Op: OpCopy, From: "data.total", To: "count"},
				{Op: OpCopy, From: "data.patients[1].name", To: "last.name"},
			}},
			want: `{"count":2,"last":{"name":"Bob"}}`,
		},
		{
			name: "rename with passthrough",
			desc: Descriptor{Passthrough: true, Ops: []Op{
				{Op: OpRename, From: "meta", To: "provenance"},
			}},
			want: `{"data":{"patients":[{"id":"p1","name":"Ann"},{"id":"p2","name":"Bob"}],"total":2},"provenance":{"source":"north"}}`,
		},
		{
			name: "extract projection to root",
			desc: Descriptor{Ops: []Op{
				{Op: OpExtract, From: "data.patients[*].id"},
			}},
			want: `["p1","p2"]`,
		},
		{
			name: "extract then literal",
			desc: Descriptor{Ops: []Op{
				{Op: OpExtract, From: "data", To: "result"},
				{Op: OpLiteral, To: "source", Value: "hospital"},
			}},
			want: `{"result":{"patients":[{"id":"p1","name":"Ann"},{"id":"p2","name":"Bob"}],"total":2},"source":"hospital"}`,
		},
		{
			name: "missing optional skipped",
			desc: Descriptor{Ops: []Op{
				{Op: OpCopy, From: "data.absent", To: "x"},
				{Op: OpLiteral, To: "y", Value: true},
			}},
			want: `{"y":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.desc.Validate())
			in := decode(t, input)
			out, err := tt.desc.Apply(in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, encode(t, out))
			assert.JSONEq(t, input, encode(t, in), "input must not be modified")
		})
	}
}

func TestDescriptor_RequiredMissing(t *testing.T) {
	d := Descriptor{Ops: []Op{{Op: OpCopy, From: "a.b", To: "c", Required: true}}}
	_, err := d.Apply(decode(t, `{"a":{}}`))
	require.ErrorIs(t, err, ErrMissingField)
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name string
		op   Op
	}{
		{name: "unknown op", op: Op{Op: "eval", From: "a", To: "b"}},
		{name: "copy without target", op: Op{Op: OpCopy, From: "a"}},
		{name: "indexed target", op: Op{Op: OpCopy, From: "a", To: "b[0]"}},
		{name: "rename indexed source", op: Op{Op: OpRename, From: "a[1]", To: "b"}},
		{name: "extract without source", op: Op{Op: OpExtract, To: "b"}},
		{name: "literal without target", op: Op{Op: OpLiteral, Value: 1}},
		{name: "malformed path", op: Op{Op: OpCopy, From: "a..b", To: "c"}},
		{name: "bad index", op: Op{Op: OpCopy, From: "a[x]", To: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Descriptor{Ops: []Op{tt.op}}.Validate())
		})
	}
}

func TestRender(t *testing.T) {
	src := Sources{
		Params: map[string]string{"id": "a b"},
		Query:  url.Values{"region": {"west"}},
		Header: http.Header{"X-Case": {"C-17"}},
		Body:   decode(t, `{"person":{"age":41,"tags":["x"]}}`),
	}

	got, err := Render("/persons/{{params.id}}", src, true)
	require.NoError(t, err)
	assert.Equal(t, "/persons/a%20b", got)

	got, err = Render("{{ query.region }}-{{header.X-Case}}-{{body.person.age}}-{{body.person.tags[0]}}", src, false)
	require.NoError(t, err)
	assert.Equal(t, "west-C-17-41-x", got)

	_, err = Render("{{params.missing}}", src, false)
	assert.ErrorIs(t, err, ErrUnresolved)

	_, err = Render("{{params.id", src, false)
	assert.Error(t, err)
}

func TestRenderMap(t *testing.T) {
	out, err := RenderMap(map[string]string{"X-Region": "{{query.region}}", "Static": "v"}, Sources{Query: url.Values{"region": {"east"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Region": "east", "Static": "v"}, out)

	out, err = RenderMap(nil, Sources{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestValidateTemplate(t *testing.T) {
	assert.NoError(t, ValidateTemplate("/v1/{{params.id}}?q={{query.q}}"))
	assert.NoError(t, ValidateTemplate("plain"))
	assert.Error(t, ValidateTemplate("{{id}}"))
	assert.Error(t, ValidateTemplate("{{env.HOME}}"))
	assert.Error(t, ValidateTemplate("{{body.a[}}"))
	assert.Error(t, ValidateTemplate("{{params.id"))
}
