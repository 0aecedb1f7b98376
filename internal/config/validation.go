package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/conneroisu/inlinesvg/internal/attrs"
	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/storage"
	"github.com/conneroisu/inlinesvg/internal/validation"
)

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// Err converts the errors of the result into a configuration error, or nil.
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	fields := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		fields = append(fields, e.Field)
	}
	return errors.NewConfigError(errors.ErrCodeConfigInvalid, "invalid configuration").
		WithContext("fields", fields).
		WithContext("details", strings.TrimSpace(vr.String()))
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// Validate checks a normalized configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateDirectives(&cfg.Directives, result)
	validateAttributes(&cfg.Attributes, result)
	validateCache(&cfg.Cache, result)
	validateObserver(&cfg.Observer, result)
	validateFetch(&cfg.Fetch, result)
	validateServer(&cfg.Server, result)
	validateLog(&cfg.Log, result)

	result.Valid = !result.HasErrors()
	return result
}

func validateDirectives(d *DirectivesConfig, result *ValidationResult) {
	for _, directive := range []struct{ field, name string }{
		{"directives.inline", d.Inline},
		{"directives.sprite", d.Sprite},
	} {
		field, name := directive.field, directive.name
		if !attrs.ValidName(name) {
			result.addError(field, name, fmt.Sprintf("%q is not a valid attribute name", name),
				"Use lower-case letters, digits and dashes, e.g. 'v-svg-inline'")
		}
	}
	if d.Inline != "" && d.Inline == d.Sprite {
		result.addError("directives.sprite", d.Sprite, "sprite directive must differ from the inline directive")
	}
}

func validateAttributes(a *AttributesConfig, result *ValidationResult) {
	lists := []struct {
		field string
		names []string
	}{
		{"attributes.clone", a.Clone},
		{"attributes.merge", a.Merge},
		{"attributes.data", a.Data},
		{"attributes.remove", a.Remove},
	}
	for _, list := range lists {
		for _, name := range list.names {
			if !attrs.ValidName(name) {
				result.addError(list.field, name, fmt.Sprintf("%q is not a valid attribute name", name))
			}
		}
	}

	merge := make(map[string]bool, len(a.Merge))
	for _, name := range a.Merge {
		merge[name] = true
	}
	for _, add := range a.Add {
		if !attrs.ValidName(add.Name) {
			result.addError("attributes.add", add.Name, fmt.Sprintf("%q is not a valid attribute name", add.Name))
		}
	}
	for _, name := range a.Data {
		if merge["data-"+name] {
			continue
		}
		for _, removed := range a.Remove {
			if removed == "data-"+name {
				result.addWarning("attributes.data", name,
					fmt.Sprintf("data-%s is promoted and then removed", name),
					"Drop data-"+name+" from attributes.remove")
			}
		}
	}
}

func validateCache(c *CacheConfig, result *ValidationResult) {
	if c.Namespace == "" || strings.Contains(c.Namespace, ":") {
		result.addError("cache.namespace", c.Namespace, "namespace must be non-empty and must not contain ':'")
	}
	if c.Version == "" {
		result.addError("cache.version", c.Version, "version must be non-empty",
			"Bump the version string to discard a cache generation")
	}

	switch c.Backend {
	case storage.BackendNone, storage.BackendMemory, storage.BackendFile, storage.BackendSQLite, storage.BackendRedis:
	default:
		result.addError("cache.backend", c.Backend, fmt.Sprintf("unknown backend %q", c.Backend),
			"Use one of: none, memory, file, sqlite, redis")
	}

	if c.Persistent && (c.Backend == storage.BackendNone || c.Backend == storage.BackendMemory) {
		result.addWarning("cache.persistent", c.Backend, "persistent cache uses a backend that does not outlive the process")
	}
	if (c.Backend == storage.BackendFile || c.Backend == storage.BackendSQLite) && c.Path == "" {
		result.addError("cache.path", c.Path, "backend requires a path")
	}
}

func validateObserver(o *ObserverConfig, result *ValidationResult) {
	if o.Flush != FlushVisible && o.Flush != FlushDefer {
		result.addError("observer.flush", o.Flush, fmt.Sprintf("unknown flush mode %q", o.Flush),
			"Use 'visible' to inline lazy elements at render time",
			"Use 'defer' to leave lazy elements for the client")
	}
	for _, t := range o.Threshold {
		if t < 0 || t > 1 {
			result.addError("observer.threshold", t, "threshold values must be within [0, 1]")
		}
	}
}

func validateFetch(f *FetchConfig, result *ValidationResult) {
	if f.BaseURL != "" {
		if err := validation.ValidateURL(f.BaseURL); err != nil {
			result.addError("fetch.base_url", f.BaseURL, err.Error(),
				"Example: https://cdn.example.com/icons/")
		}
	}
	if f.Timeout < 0 {
		result.addError("fetch.timeout", f.Timeout, "timeout must not be negative")
	}
	if f.RateLimit < 0 {
		result.addError("fetch.rate_limit", f.RateLimit, "rate limit must not be negative")
	}
	if f.RateLimit > 0 && f.Burst < 1 {
		result.addError("fetch.burst", f.Burst, "burst must be at least 1 when rate limiting")
	}
	if f.Concurrency < 1 {
		result.addError("fetch.concurrency", f.Concurrency, "concurrency must be at least 1")
	}
	if f.BaseURL == "" && f.Root == "" {
		result.addWarning("fetch", nil, "neither fetch.base_url nor fetch.root is set; svg files cannot be retrieved")
	}
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if s.Port < 0 || s.Port > 65535 {
		result.addError("server.port", s.Port, fmt.Sprintf("port %d is not in valid range 0-65535", s.Port),
			"Common development ports: 3000, 8080, 8000",
			"Port 0 allows system to assign an available port")
	} else if s.Port > 0 && s.Port < 1024 {
		result.addWarning("server.port", s.Port, "port below 1024 requires elevated privileges")
	}

	if s.Host != "" {
		if err := validateHostname(s.Host); err != nil {
			result.addError("server.host", s.Host, err.Error(),
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces")
		}
	}
}

func validateLog(l *LogConfig, result *ValidationResult) {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		result.addError("log.level", l.Level, fmt.Sprintf("unknown log level %q", l.Level),
			"Use one of: debug, info, warn, error")
	}
	switch l.Format {
	case "", "text", "json":
	default:
		result.addError("log.format", l.Format, fmt.Sprintf("unknown log format %q", l.Format),
			"Use 'text' or 'json'")
	}
}

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}

	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}
	return nil
}
