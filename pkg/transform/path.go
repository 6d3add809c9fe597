// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a path: a map key, an array index, or a wildcard
// over every element of an array.
type segment struct {
	key      string
	index    int
	isIndex  bool
	wildcard bool
}

// parsePath splits "a.b[0].c" or "items[*].id" into segments. The empty
// path and "." refer to the document root.
func parsePath(p string) ([]segment, error) {
	if p == "" || p == "." {
		return nil, nil
	}
	var segs []segment
	for _, part := range strings.Split(p, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", p)
		}
		key := part
		var idx []string
		if i := strings.IndexByte(part, '['); i >= 0 {
			key = part[:i]
			rest := part[i:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("malformed index in path %q", p)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("unterminated index in path %q", p)
				}
				idx = append(idx, rest[1:end])
				rest = rest[end+1:]
			}
		}
		if key != "" {
			segs = append(segs, segment{key: key})
		}
		for _, s := range idx {
			if s == "*" {
				segs = append(segs, segment{wildcard: true})
				continue
			}
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid index %q in path %q", s, p)
			}
			segs = append(segs, segment{index: n, isIndex: true})
		}
	}
	return segs, nil
}

// lookup resolves segs against doc. Wildcards project the remaining path
// over each array element and collect the values that resolve.
func lookup(doc any, segs []segment) (any, bool) {
	cur := doc
	for i, s := range segs {
		switch {
		case s.wildcard:
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			out := make([]any, 0, len(arr))
			for _, el := range arr {
				if v, ok := lookup(el, segs[i+1:]); ok {
					out = append(out, v)
				}
			}
			return out, true
		case s.isIndex:
			arr, ok := cur.([]any)
			if !ok || s.index >= len(arr) {
				return nil, false
			}
			cur = arr[s.index]
		default:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := m[s.key]
			if !ok {
				return nil, false
			}
			cur = v
		}
	}
	return cur, true
}

// assign writes v at segs inside root, creating intermediate objects.
// Only key segments are valid targets.
func assign(root map[string]any, segs []segment, v any) error {
	if len(segs) == 0 {
		return fmt.Errorf("cannot assign to document root")
	}
	cur := root
	for i, s := range segs {
		if s.isIndex || s.wildcard {
			return fmt.Errorf("target paths may not contain indexes")
		}
		if i == len(segs)-1 {
			cur[s.key] = v
			return nil
		}
		next, ok := cur[s.key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[s.key] = next
		}
		cur = next
	}
	return nil
}

// remove deletes the value at segs if present.
func remove(root map[string]any, segs []segment) {
	if len(segs) == 0 {
		return
	}
	cur := root
	for i, s := range segs {
		if s.isIndex || s.wildcard {
			return
		}
		if i == len(segs)-1 {
			delete(cur, s.key)
			return
		}
		next, ok := cur[s.key].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}

func hasIndex(segs []segment) bool {
	for _, s := range segs {
		if s.isIndex || s.wildcard {
			return true
		}
	}
	return false
}

// Lookup resolves a dotted path against a decoded JSON document.
func Lookup(doc any, path string) (any, bool, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}
	v, ok := lookup(doc, segs)
	return v, ok, nil
}

// DeepCopy copies maps and slices of a decoded JSON value.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}
