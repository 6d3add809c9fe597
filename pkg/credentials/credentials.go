// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

// Package credentials resolves integration credential references and
// applies them to outbound requests.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
)

// DefaultAPIKeyHeader is used for api_key auth when no header or query
// parameter name is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// ErrNotFound is returned for an unknown credential reference.
var ErrNotFound = errors.New("credential not found")

// Credential holds secret material for one reference.
type Credential struct {
	APIKey string `yaml:"api_key,omitempty"`
	// APIKeyHeader names the header carrying the key. APIKeyQuery, when set,
	// sends the key as a query parameter instead.
	APIKeyHeader string `yaml:"api_key_header,omitempty"`
	APIKeyQuery  string `yaml:"api_key_query,omitempty"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	// Token is the bearer or pre-issued OAuth2 access token.
	Token string `yaml:"token,omitempty"`
}

// Provider resolves credential references.
type Provider interface {
	Lookup(ctx context.Context, ref string) (Credential, error)
}

// StaticProvider serves credentials from configuration. Values of the form
// ${NAME} are expanded from the environment when loaded.
type StaticProvider struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewStatic creates a provider from a reference → credential map.
func NewStatic(creds map[string]Credential) *StaticProvider {
	p := &StaticProvider{}
	p.Replace(creds)
	return p
}

// Replace swaps the whole credential set, e.g. on configuration reload.
func (p *StaticProvider) Replace(creds map[string]Credential) {
	expanded := make(map[string]Credential, len(creds))
	for ref, c := range creds {
		expanded[ref] = Credential{
			APIKey:       os.ExpandEnv(c.APIKey),
			APIKeyHeader: c.APIKeyHeader,
			APIKeyQuery:  c.APIKeyQuery,
			Username:     os.ExpandEnv(c.Username),
			Password:     os.ExpandEnv(c.Password),
			Token:        os.ExpandEnv(c.Token),
		}
	}
	p.mu.Lock()
	p.creds = expanded
	p.mu.Unlock()
}

// Lookup returns the credential for ref.
func (p *StaticProvider) Lookup(_ context.Context, ref string) (Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.creds[ref]
	if !ok {
		return Credential{}, fmt.Errorf("%q: %w", ref, ErrNotFound)
	}
	return c, nil
}

// Refs returns the number of configured references.
func (p *StaticProvider) Refs() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.creds)
}

// Apply sets authentication on req according to auth.
func Apply(req *http.Request, auth catalog.AuthType, c Credential) error {
	switch auth {
	case catalog.AuthNone, "":
		return nil

	case catalog.AuthAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("api_key auth requires an api key")
		}
		if c.APIKeyQuery != "" {
			q := req.URL.Query()
			q.Set(c.APIKeyQuery, c.APIKey)
			req.URL.RawQuery = q.Encode()
			return nil
		}
		header := c.APIKeyHeader
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		req.Header.Set(header, c.APIKey)
		return nil

	case catalog.AuthBasic:
		if c.Username == "" {
			return fmt.Errorf("basic auth requires a username")
		}
		req.SetBasicAuth(c.Username, c.Password)
		return nil

	case catalog.AuthBearer, catalog.AuthOAuth2:
		if c.Token == "" {
			return fmt.Errorf("%s auth requires a token", auth)
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		return nil
	}
	return fmt.Errorf("unsupported auth type %q", auth)
}
