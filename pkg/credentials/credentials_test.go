// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loganrossus/OpenConduit/pkg/catalog"
)

func TestStaticProvider_ExpandsEnvironment(t *testing.T) {
	t.Setenv("BORDER_TOKEN", "s3cr3t")
	p := NewStatic(map[string]Credential{
		"border": {Token: "${BORDER_TOKEN}"},
	})

	c, err := p.Lookup(context.Background(), "border")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", c.Token)

	_, err = p.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	p.Replace(nil)
	assert.Zero(t, p.Refs())
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		auth    catalog.AuthType
		cred    Credential
		check   func(t *testing.T, r *http.Request)
		wantErr bool
	}{
		{
			name: "none",
			auth: catalog.AuthNone,
			check: func(t *testing.T, r *http.Request) {
				assert.Empty(t, r.Header.Get("Authorization"))
			},
		},
		{
			name: "api key default header",
			auth: catalog.AuthAPIKey,
			cred: Credential{APIKey: "k1"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k1", r.Header.Get(DefaultAPIKeyHeader))
			},
		},
		{
			name: "api key query",
			auth: catalog.AuthAPIKey,
			cred: Credential{APIKey: "k2", APIKeyQuery: "key"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k2", r.URL.Query().Get("key"))
				assert.Equal(t, "1", r.URL.Query().Get("page"))
			},
		},
		{
			name: "basic",
			auth: catalog.AuthBasic,
			cred: Credential{Username: "u", Password: "p"},
			check: func(t *testing.T, r *http.Request) {
				u, p, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "u", u)
				assert.Equal(t, "p", p)
			},
		},
		{
			name: "oauth2 pre-issued token",
			auth: catalog.AuthOAuth2,
			cred: Credential{Token: "tok"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			},
		},
		{name: "bearer without token", auth: catalog.AuthBearer, wantErr: true},
		{name: "api key missing", auth: catalog.AuthAPIKey, wantErr: true},
		{name: "unknown", auth: "kerberos", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "https://upstream.example/v1?page=1", nil)
			err := Apply(req, tt.auth, tt.cred)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, req)
		})
	}
}
