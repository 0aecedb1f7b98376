//go:build property
// +build property

package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigurationProperties tests normalization properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: normalized name lists never contain duplicates or upper case
	properties.Property("normalized names are unique", prop.ForAll(
		func(names []string) bool {
			out := normalizeNames(names)
			seen := make(map[string]bool, len(out))
			for _, name := range out {
				if seen[name] || name != normalizeName(name) || name == "" {
					return false
				}
				seen[name] = true
			}
			return true
		},
		gen.SliceOfN(6, gen.RegexMatch(`^ ?[a-zA-Z][a-zA-Z-]{0,4} ?$`)),
	))

	// Property: normalization is idempotent
	properties.Property("normalize is idempotent", prop.ForAll(
		func(names []string) bool {
			once := normalizeNames(names)
			twice := normalizeNames(once)
			if len(once) != len(twice) {
				return false
			}
			for i := range once {
				if once[i] != twice[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.RegexMatch(`^ ?[a-zA-Z][a-zA-Z-]{0,4} ?$`)),
	))

	// Property: valid ports never produce a port error
	properties.Property("valid port accepted", prop.ForAll(
		func(port int) bool {
			cfg := Default()
			cfg.Server.Port = port
			for _, e := range Validate(cfg).Errors {
				if e.Field == "server.port" {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 65535),
	))

	properties.TestingRun(t)
}
