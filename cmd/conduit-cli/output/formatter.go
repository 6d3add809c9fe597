// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package output provides formatters for CLI output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Formatter defines the interface for output formatting.
type Formatter interface {
	// Print outputs arbitrary data.
	Print(data any) error
	// PrintTable outputs tabular data with headers.
	PrintTable(headers []string, rows [][]string)
	// PrintKeyValue outputs key-value pairs.
	PrintKeyValue(pairs []KVPair)
	// PrintMessage outputs a simple message.
	PrintMessage(msg string)
}

// KVPair represents a key-value pair for output.
type KVPair struct {
	Key   string
	Value string
}

// TableFormatter outputs human-readable tables.
type TableFormatter struct {
	Writer io.Writer
}

// Print outputs data as indented JSON; tables are used where commands
// build them.
func (f *TableFormatter) Print(data any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintTable outputs tabular data with headers.
func (f *TableFormatter) PrintTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(f.Writer, "No data available.")
		return
	}

	w := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}

// PrintKeyValue outputs key-value pairs aligned on the key column.
func (f *TableFormatter) PrintKeyValue(pairs []KVPair) {
	width := 0
	for _, pair := range pairs {
		if len(pair.Key) > width {
			width = len(pair.Key)
		}
	}
	for _, pair := range pairs {
		fmt.Fprintf(f.Writer, "  %-*s  %s\n", width+1, pair.Key+":", pair.Value)
	}
}

// PrintMessage outputs a simple message.
func (f *TableFormatter) PrintMessage(msg string) {
	fmt.Fprintln(f.Writer, msg)
}

// JSONFormatter outputs JSON.
type JSONFormatter struct {
	Writer io.Writer
	Pretty bool
}

// Print outputs data as JSON.
func (f *JSONFormatter) Print(data any) error {
	enc := json.NewEncoder(f.Writer)
	if f.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// PrintTable outputs rows as an array of objects keyed by snake-cased
// header.
func (f *JSONFormatter) PrintTable(headers []string, rows [][]string) {
	result := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[jsonKey(header)] = row[i]
			}
		}
		result = append(result, obj)
	}
	_ = f.Print(result)
}

// PrintKeyValue outputs key-value pairs as a JSON object.
func (f *JSONFormatter) PrintKeyValue(pairs []KVPair) {
	obj := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		obj[jsonKey(pair.Key)] = pair.Value
	}
	_ = f.Print(obj)
}

// PrintMessage outputs a message as JSON.
func (f *JSONFormatter) PrintMessage(msg string) {
	_ = f.Print(map[string]string{"message": msg})
}

func jsonKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
}

// New returns the formatter selected by the --json flag, writing to w.
func New(jsonOutput bool, w io.Writer) Formatter {
	if jsonOutput {
		return &JSONFormatter{Writer: w, Pretty: true}
	}
	return &TableFormatter{Writer: w}
}
