// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTableFormatter_PrintTable(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		rows     [][]string
		contains []string
	}{
		{
			name:    "basic table",
			headers: []string{"ID", "STATE"},
			rows: [][]string{
				{"hospital-a", "connected"},
				{"border-b", "circuit_open"},
			},
			contains: []string{"ID", "STATE", "hospital-a", "connected", "border-b", "circuit_open"},
		},
		{
			name:     "empty table",
			headers:  []string{"ID", "STATE"},
			rows:     [][]string{},
			contains: []string{"No data available"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &TableFormatter{Writer: buf}
			f.PrintTable(tt.headers, tt.rows)

			out := buf.String()
			for _, s := range tt.contains {
				if !strings.Contains(out, s) {
					t.Errorf("expected output to contain %q, got:\n%s", s, out)
				}
			}
		})
	}
}

func TestTableFormatter_PrintKeyValue(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &TableFormatter{Writer: buf}
	f.PrintKeyValue([]KVPair{
		{Key: "Integrations", Value: "4"},
		{Key: "Routes", Value: "2"},
	})

	out := buf.String()
	if !strings.Contains(out, "Integrations:") || !strings.Contains(out, "Routes:") {
		t.Errorf("expected aligned keys, got:\n%s", out)
	}
}

func TestJSONFormatter_PrintTable(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &JSONFormatter{Writer: buf}
	f.PrintTable([]string{"ID", "Last Error"}, [][]string{{"a", "timeout"}})

	var got []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != "a" || got[0]["last_error"] != "timeout" {
		t.Errorf("unexpected rows: %v", got)
	}
}

func TestJSONFormatter_PrintKeyValue(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &JSONFormatter{Writer: buf}
	f.PrintKeyValue([]KVPair{{Key: "Cache Hit Rate", Value: "0.50"}})

	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["cache_hit_rate"] != "0.50" {
		t.Errorf("unexpected object: %v", got)
	}
}

func TestNew(t *testing.T) {
	if _, ok := New(true, &bytes.Buffer{}).(*JSONFormatter); !ok {
		t.Error("expected JSON formatter")
	}
	if _, ok := New(false, &bytes.Buffer{}).(*TableFormatter); !ok {
		t.Error("expected table formatter")
	}
}
