// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package transform reshapes JSON documents between the canonical route
// format and each integration's format.
//
// A Descriptor is data, not code: an ordered list of operations drawn from a
// closed set and run by Apply. Documents are values produced by
// encoding/json decoding into any.
package transform

import (
	"errors"
	"fmt"
)

// OpKind names a transform operation.
type OpKind string

const (
	// OpCopy writes the value at From to To. A missing From is skipped
	// unless Required.
	OpCopy OpKind = "copy"
	// OpRename moves From to To within the output.
	OpRename OpKind = "rename"
	// OpLiteral writes Value to To.
	OpLiteral OpKind = "literal"
	// OpExtract replaces the output with the value at From, or places it at
	// To discarding everything else. From may use [*] projections.
	OpExtract OpKind = "extract"
)

// Op is one transform step.
type Op struct {
	Op       OpKind `json:"op" yaml:"op"`
	From     string `json:"from,omitempty" yaml:"from,omitempty"`
	To       string `json:"to,omitempty" yaml:"to,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Descriptor is an ordered transform. The zero Descriptor is the identity.
type Descriptor struct {
	// Passthrough starts the output as a copy of the input. Without it the
	// output starts empty, unless there are no ops at all.
	Passthrough bool `json:"passthrough,omitempty" yaml:"passthrough,omitempty"`
	Ops         []Op `json:"ops,omitempty" yaml:"ops,omitempty"`
}

// IsIdentity reports whether Apply returns its input unchanged.
func (d Descriptor) IsIdentity() bool { return len(d.Ops) == 0 }

// ErrMissingField is returned when a Required source path does not resolve.
var ErrMissingField = errors.New("required field missing")

// Validate checks every op for well-formed paths and required arguments.
func (d Descriptor) Validate() error {
	var errs []error
	for i, op := range d.Ops {
		if err := op.validate(); err != nil {
			errs = append(errs, fmt.Errorf("op %d (%s): %w", i, op.Op, err))
		}
	}
	return errors.Join(errs...)
}

func (op Op) validate() error {
	from, err := parsePath(op.From)
	if err != nil {
		return err
	}
	to, err := parsePath(op.To)
	if err != nil {
		return err
	}
	if hasIndex(to) {
		return fmt.Errorf("target path %q may not contain indexes", op.To)
	}

	switch op.Op {
	case OpCopy:
		if len(to) == 0 {
			return fmt.Errorf("copy requires a target path")
		}
	case OpRename:
		if len(from) == 0 || len(to) == 0 {
			return fmt.Errorf("rename requires source and target paths")
		}
		if hasIndex(from) {
			return fmt.Errorf("rename source %q may not contain indexes", op.From)
		}
	case OpLiteral:
		if len(to) == 0 {
			return fmt.Errorf("literal requires a target path")
		}
	case OpExtract:
		if len(from) == 0 {
			return fmt.Errorf("extract requires a source path")
		}
	default:
		return fmt.Errorf("unknown operation %q", op.Op)
	}
	return nil
}

// Apply runs the descriptor against in and returns a new document; in is
// never modified.
func (d Descriptor) Apply(in any) (any, error) {
	if d.IsIdentity() {
		return in, nil
	}

	var out any
	if d.Passthrough {
		out = DeepCopy(in)
	} else {
		out = map[string]any{}
	}

	for i, op := range d.Ops {
		next, err := op.apply(in, out)
		if err != nil {
			return nil, fmt.Errorf("transform op %d (%s): %w", i, op.Op, err)
		}
		out = next
	}
	return out, nil
}

func (op Op) apply(in, out any) (any, error) {
	from, err := parsePath(op.From)
	if err != nil {
		return nil, err
	}
	to, err := parsePath(op.To)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case OpCopy:
		v, ok := lookup(in, from)
		if !ok {
			return out, op.missing()
		}
		return set(out, to, DeepCopy(v))

	case OpRename:
		obj, ok := out.(map[string]any)
		if !ok {
			return out, op.missing()
		}
		v, ok := lookup(obj, from)
		if !ok {
			return out, op.missing()
		}
		remove(obj, from)
		return set(obj, to, v)

	case OpLiteral:
		return set(out, to, DeepCopy(op.Value))

	case OpExtract:
		v, ok := lookup(in, from)
		if !ok {
			return out, op.missing()
		}
		v = DeepCopy(v)
		if len(to) == 0 {
			return v, nil
		}
		return set(map[string]any{}, to, v)
	}
	return nil, fmt.Errorf("unknown operation %q", op.Op)
}

func (op Op) missing() error {
	if op.Required {
		return fmt.Errorf("%w: %s", ErrMissingField, op.From)
	}
	return nil
}

func set(out any, to []segment, v any) (any, error) {
	obj, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot write into non-object output")
	}
	if err := assign(obj, to, v); err != nil {
		return nil, err
	}
	return obj, nil
}
