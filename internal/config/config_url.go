// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
)

// validateHTTPOrNATSURL validates the relay transport's connection URL:
// scheme must be nats, tls, ws or wss, and host must be present.
func validateHTTPOrNATSURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s: failed to parse URL: %w", fieldName, err)
	}

	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("%s: scheme must be nats, tls, ws, or wss, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s: host is required (e.g., localhost:4222, nats.example.com:4222)", fieldName)
	}

	return nil
}
