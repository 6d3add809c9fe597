// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package transform

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnresolved is returned when a template placeholder has no value.
var ErrUnresolved = errors.New("unresolved template placeholder")

// Sources are the values a request template may refer to:
// {{params.id}}, {{query.q}}, {{header.X-Tenant}}, {{body.person.name}}.
type Sources struct {
	Params map[string]string
	Query  url.Values
	Header http.Header
	Body   any
}

// Render substitutes {{source.path}} placeholders in s. When escape is
// set, substituted values are path-escaped, for use in URL paths.
func Render(s string, src Sources, escape bool) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		rest = rest[open+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", s)
		}
		name := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]

		v, err := resolve(name, src)
		if err != nil {
			return "", err
		}
		if escape {
			v = url.PathEscape(v)
		}
		b.WriteString(v)
	}
}

// RenderMap renders every value of m.
func RenderMap(m map[string]string, src Sources) (map[string]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, tmpl := range m {
		v, err := Render(tmpl, src, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// ValidateTemplate checks placeholder syntax and source names without
// resolving values.
func ValidateTemplate(s string) error {
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			return nil
		}
		rest = rest[open+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return fmt.Errorf("unterminated placeholder in %q", s)
		}
		name := strings.TrimSpace(rest[:end])
		source, path, ok := strings.Cut(name, ".")
		if !ok || path == "" {
			return fmt.Errorf("placeholder {{%s}} must be source.path", name)
		}
		switch source {
		case "params", "query", "header":
		case "body":
			if _, err := parsePath(path); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown placeholder source %q", source)
		}
		rest = rest[end+2:]
	}
}

func resolve(name string, src Sources) (string, error) {
	source, path, ok := strings.Cut(name, ".")
	if !ok || path == "" {
		return "", fmt.Errorf("%w: {{%s}}", ErrUnresolved, name)
	}

	switch source {
	case "params":
		if v, ok := src.Params[path]; ok {
			return v, nil
		}
	case "query":
		if vs, ok := src.Query[path]; ok && len(vs) > 0 {
			return vs[0], nil
		}
	case "header":
		if v := src.Header.Get(path); v != "" {
			return v, nil
		}
	case "body":
		v, ok, err := Lookup(src.Body, path)
		if err != nil {
			return "", err
		}
		if ok && v != nil {
			return scalarString(v), nil
		}
	}
	return "", fmt.Errorf("%w: {{%s}}", ErrUnresolved, name)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
