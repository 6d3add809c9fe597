// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loganrossus/OpenConduit/pkg/credentials"
)

// MaxIncludeDepth is the maximum nesting level for includes.
const MaxIncludeDepth = 10

// IncludeError represents an error during include processing with file context.
type IncludeError struct {
	File    string
	Message string
	Cause   error
}

func (e *IncludeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *IncludeError) Unwrap() error {
	return e.Cause
}

// CircularIncludeError represents a circular include detection.
type CircularIncludeError struct {
	Path  []string
	Cycle string
}

func (e *CircularIncludeError) Error() string {
	return fmt.Sprintf("circular include detected: %s -> %s", strings.Join(e.Path, " -> "), e.Cycle)
}

type includeContext struct {
	depth       int
	visiting    map[string]bool
	visitPath   []string
	loadedFiles []string
}

// LoadWithIncludes reads a configuration file and merges its includes. It
// returns the merged, not yet defaulted configuration and every file read.
func LoadWithIncludes(path string) (*Config, []string, error) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, nil, &IncludeError{File: path, Message: "failed to resolve path", Cause: err}
	}

	ctx := &includeContext{visiting: make(map[string]bool)}
	cfg, err := ctx.load(absPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, ctx.loadedFiles, nil
}

func (ctx *includeContext) load(absPath string) (*Config, error) {
	if ctx.depth > MaxIncludeDepth {
		return nil, &IncludeError{
			File:    absPath,
			Message: fmt.Sprintf("maximum include depth (%d) exceeded", MaxIncludeDepth),
		}
	}
	if ctx.visiting[absPath] {
		return nil, &CircularIncludeError{
			Path:  append([]string{}, ctx.visitPath...),
			Cycle: absPath,
		}
	}

	ctx.visiting[absPath] = true
	ctx.visitPath = append(ctx.visitPath, absPath)
	ctx.loadedFiles = append(ctx.loadedFiles, absPath)
	defer func() {
		ctx.visitPath = ctx.visitPath[:len(ctx.visitPath)-1]
		delete(ctx.visiting, absPath)
	}()

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &IncludeError{File: absPath, Message: "failed to read file", Cause: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &IncludeError{File: absPath, Message: "failed to parse YAML", Cause: err}
	}

	if len(cfg.Includes) > 0 {
		ctx.depth++
		defer func() { ctx.depth-- }()

		baseDir := filepath.Dir(absPath)
		for _, pattern := range cfg.Includes {
			if err := ctx.include(baseDir, pattern, &cfg); err != nil {
				return nil, err
			}
		}
	}
	return &cfg, nil
}

func (ctx *includeContext) include(baseDir, pattern string, cfg *Config) error {
	matches, err := expandPattern(baseDir, pattern)
	if err != nil {
		return &IncludeError{File: baseDir, Message: fmt.Sprintf("invalid include pattern %q", pattern), Cause: err}
	}
	sort.Strings(matches)

	for _, match := range matches {
		absMatch, err := filepath.Abs(match)
		if err != nil {
			return &IncludeError{File: match, Message: "failed to resolve path", Cause: err}
		}
		info, err := os.Stat(absMatch)
		if err != nil {
			return &IncludeError{File: absMatch, Message: "failed to stat file", Cause: err}
		}
		if info.IsDir() {
			continue
		}
		if _, err := CheckFilePermissions(absMatch); err != nil {
			return &IncludeError{File: absMatch, Message: "permission check failed", Cause: err}
		}

		included, err := ctx.load(absMatch)
		if err != nil {
			return err
		}
		if err := merge(cfg, included, absMatch); err != nil {
			return err
		}
	}
	return nil
}

// expandPattern resolves pattern against baseDir. A "**" segment matches
// any number of directories.
func expandPattern(baseDir, pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	idx := strings.Index(pattern, string(filepath.Separator)+"**"+string(filepath.Separator))
	if idx < 0 {
		return filepath.Glob(pattern)
	}

	root := pattern[:idx]
	suffix := pattern[idx+4:]
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		found, err := filepath.Glob(filepath.Join(path, suffix))
		if err != nil {
			return err
		}
		matches = append(matches, found...)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return matches, nil
}

// merge folds the records of an included file into main. Lists are
// concatenated and duplicate ids are rejected. Credentials merge by ref,
// included values winning. Scalar sections are only read from the main file.
func merge(main, included *Config, sourceFile string) error {
	if len(included.Integrations) > 0 {
		seen := make(map[string]bool, len(main.Integrations))
		for _, ic := range main.Integrations {
			seen[ic.ID] = true
		}
		for _, ic := range included.Integrations {
			if seen[ic.ID] {
				return &IncludeError{File: sourceFile, Message: fmt.Sprintf("duplicate integration id %q", ic.ID)}
			}
		}
		main.Integrations = append(main.Integrations, included.Integrations...)
	}

	if len(included.Routes) > 0 {
		seen := make(map[string]bool, len(main.Routes))
		for _, rc := range main.Routes {
			seen[rc.ID] = true
		}
		for _, rc := range included.Routes {
			if seen[rc.ID] {
				return &IncludeError{File: sourceFile, Message: fmt.Sprintf("duplicate route id %q", rc.ID)}
			}
		}
		main.Routes = append(main.Routes, included.Routes...)
	}

	if len(included.Credentials) > 0 {
		if main.Credentials == nil {
			main.Credentials = make(map[string]credentials.Credential, len(included.Credentials))
		}
		for ref, c := range included.Credentials {
			main.Credentials[ref] = c
		}
	}
	return nil
}
