// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loganrossus/OpenConduit/pkg/api"
)

// APIClient talks to the admin API or the gateway.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient creates a client for the admin API.
func NewAPIClient() *APIClient {
	return newClient(apiEndpoint)
}

// NewGatewayClient creates a client for the gateway.
func NewGatewayClient() *APIClient {
	return newClient(gatewayEndpoint)
}

func newClient(base string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

// Get performs a GET request to the API.
func (c *APIClient) Get(path string, result any) error {
	return c.doJSON(http.MethodGet, path, nil, result)
}

// Put performs a PUT request to the API.
func (c *APIClient) Put(path string, body, result any) error {
	return c.doJSON(http.MethodPut, path, body, result)
}

// Post performs a POST request to the API.
func (c *APIClient) Post(path string, body, result any) error {
	return c.doJSON(http.MethodPost, path, body, result)
}

// Delete performs a DELETE request to the API.
func (c *APIClient) Delete(path string) error {
	return c.doJSON(http.MethodDelete, path, nil, nil)
}

// Raw sends body as-is and decodes the response into result whatever its
// status. It returns the status code.
func (c *APIClient) Raw(method, path string, body []byte, result any) (int, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to gateway: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response (%d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

// doJSON performs a JSON request.
func (c *APIClient) doJSON(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// handleErrorResponse parses error responses from the API.
func (c *APIClient) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg := errResp.Error
		if len(errResp.Details) > 0 {
			msg += ": " + strings.Join(errResp.Details, "; ")
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
	}

	if len(body) > 0 {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("API error: %s", resp.Status)
}

// URLEncode URL-encodes a string for path use.
func URLEncode(s string) string {
	return url.PathEscape(s)
}
