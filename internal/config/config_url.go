// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	httpSchemes = []string{"http", "https"}
	natsSchemes = []string{"nats", "tls", "ws", "wss"}
)

// parseEndpoint parses raw and checks it has a host and one of schemes.
func parseEndpoint(raw string, schemes []string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("scheme must be %s, got %q", strings.Join(schemes, " or "), u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return u, nil
}

// validateHTTPURL checks an http(s) URL. Provider base URLs (allowPath
// false) must not carry a path. No URL may carry a query string; the
// clients build their own.
func validateHTTPURL(raw, field string, allowPath bool) error {
	u, err := parseEndpoint(raw, httpSchemes)
	if err != nil {
		return fmt.Errorf("%s %w", field, err)
	}
	if !allowPath && strings.Trim(u.Path, "/") != "" {
		return fmt.Errorf("%s must be a base URL only, drop the path %q", field, u.Path)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("%s must not include query parameters", field)
	}
	return nil
}

// validateNATSURL checks a NATS server URL, for example nats://localhost:4222.
func validateNATSURL(raw string) error {
	_, err := parseEndpoint(raw, natsSchemes)
	return err
}
