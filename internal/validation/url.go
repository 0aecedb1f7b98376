// Package validation checks the URLs, origins and paths that reach the
// inliner from configuration, browsers and markup.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL validates an absolute http or https URL such as fetch.base_url.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", parsed.Scheme)
	}

	// Characters that never appear unescaped in a well formed URL.
	for _, char := range []string{" ", "<", ">", "\"", "'", "\\", "`", "\n", "\r", "\t"} {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("URL contains invalid character: %q", char)
		}
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	if parsed.User != nil {
		return fmt.Errorf("URL must not carry credentials")
	}

	return nil
}

// ValidateOrigin checks a WebSocket Origin header against the hosts allowed
// to connect. Only http and https origins are accepted.
func ValidateOrigin(origin string, allowedHosts []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme %q: only http and https are allowed", originURL.Scheme)
	}

	for _, allowed := range allowedHosts {
		if originURL.Host == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin %q is not in allowed origins list", origin)
}

// ValidateRelativePath rejects paths that climb out of the directory they
// are resolved against. p uses forward slashes.
func ValidateRelativePath(p string) error {
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal detected: %s", p)
		}
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains a NUL byte")
	}
	return nil
}
