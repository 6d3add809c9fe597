// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultKeyTemplate keys entries by route, mapping and a digest of the
// normalized request parameters.
const DefaultKeyTemplate = "{route}:{mapping}:{params}"

// KeyInput is the request data a key template can refer to.
type KeyInput struct {
	Route       string
	Mapping     string
	Integration string
	Method      string
	Path        string
	PathParams  map[string]string
	Query       url.Values
	Header      http.Header
	Body        []byte
}

var fixedPlaceholders = map[string]bool{
	"route": true, "mapping": true, "integration": true,
	"method": true, "path": true, "params": true,
}

// ValidateKeyTemplate checks that every placeholder is known and braces
// are balanced.
func ValidateKeyTemplate(tmpl string) error {
	_, err := expand(tmpl, func(string) string { return "" })
	return err
}

// BuildKey expands tmpl against in. An empty template uses
// DefaultKeyTemplate. Equal inputs always produce equal keys; query keys and
// JSON object keys are ordered before hashing.
func BuildKey(tmpl string, in KeyInput) (string, error) {
	if tmpl == "" {
		tmpl = DefaultKeyTemplate
	}
	return expand(tmpl, func(name string) string {
		switch name {
		case "route":
			return in.Route
		case "mapping":
			return in.Mapping
		case "integration":
			return in.Integration
		case "method":
			return strings.ToUpper(in.Method)
		case "path":
			return in.Path
		case "params":
			return paramsDigest(in)
		}
		if v, ok := strings.CutPrefix(name, "query."); ok {
			return in.Query.Get(v)
		}
		if v, ok := strings.CutPrefix(name, "header."); ok {
			return in.Header.Get(v)
		}
		if v, ok := strings.CutPrefix(name, "param."); ok {
			return in.PathParams[v]
		}
		return ""
	})
}

func expand(tmpl string, resolve func(string) string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); {
		open := strings.IndexByte(tmpl[i:], '{')
		if open < 0 {
			if strings.IndexByte(tmpl[i:], '}') >= 0 {
				return "", fmt.Errorf("unbalanced '}' in cache key template %q", tmpl)
			}
			b.WriteString(tmpl[i:])
			break
		}
		if strings.IndexByte(tmpl[i:i+open], '}') >= 0 {
			return "", fmt.Errorf("unbalanced '}' in cache key template %q", tmpl)
		}
		b.WriteString(tmpl[i : i+open])
		rest := tmpl[i+open+1:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in cache key template %q", tmpl)
		}
		name := rest[:end]
		if !knownPlaceholder(name) {
			return "", fmt.Errorf("unknown placeholder {%s} in cache key template", name)
		}
		b.WriteString(resolve(name))
		i += open + 1 + end + 1
	}
	return b.String(), nil
}

func knownPlaceholder(name string) bool {
	if fixedPlaceholders[name] {
		return true
	}
	for _, p := range []string{"query.", "header.", "param."} {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			return true
		}
	}
	return false
}

// paramsDigest hashes the normalized path params, query and body.
func paramsDigest(in KeyInput) string {
	h := xxhash.New()

	names := make([]string, 0, len(in.PathParams))
	for k := range in.PathParams {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		_, _ = h.WriteString("p:" + k + "=" + in.PathParams[k] + "\n")
	}

	keys := make([]string, 0, len(in.Query))
	for k := range in.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range in.Query[k] {
			_, _ = h.WriteString("q:" + k + "=" + v + "\n")
		}
	}

	if body := canonicalBody(in.Body); len(body) > 0 {
		_, _ = h.WriteString("b:")
		_, _ = h.Write(body)
	}

	return strconv.FormatUint(h.Sum64(), 16)
}

// canonicalBody re-encodes JSON bodies so that key order and whitespace do
// not change the digest. Numbers keep their literal text so large ids stay
// distinct. Non-JSON bodies are hashed as-is.
func canonicalBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return trimmed
	}
	if _, err := dec.Token(); err != io.EOF {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}
