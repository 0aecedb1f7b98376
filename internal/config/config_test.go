package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/reconcile"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(newViper())
	require.NoError(t, err)

	assert.Equal(t, "v-svg-inline", cfg.Directives.Inline)
	assert.Equal(t, "v-svg-inline-sprite", cfg.Directives.Sprite)
	assert.Equal(t, []string{"class", "style"}, cfg.Attributes.Merge)
	assert.Equal(t, []string{"alt", "src", "data-src"}, cfg.Attributes.Remove)
	assert.Equal(t, []reconcile.Attribute{
		{Name: "focusable", Value: "false"},
		{Name: "role", Value: "presentation"},
		{Name: "tabindex", Value: "-1"},
	}, cfg.Attributes.Add)
	assert.Equal(t, "inlinesvg", cfg.Cache.Namespace)
	assert.Equal(t, "1", cfg.Cache.Version)
	assert.True(t, cfg.Cache.RemoveRevisions)
	assert.False(t, cfg.Cache.Persistent)
	assert.True(t, cfg.Observer.Enabled)
	assert.Equal(t, FlushVisible, cfg.Observer.Flush)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 8, cfg.Fetch.Concurrency)
	assert.False(t, cfg.XHTML)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(v *viper.Viper)
		check  func(t *testing.T, cfg *Config)
		fields []string
	}{
		{
			name: "names are normalized and de-duplicated",
			setup: func(v *viper.Viper) {
				v.Set("attributes.merge", []string{" Class", "class", "STYLE "})
				v.Set("directives.inline", "  V-Icon ")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"class", "style"}, cfg.Attributes.Merge)
				assert.Equal(t, "v-icon", cfg.Directives.Inline)
			},
		},
		{
			name: "comma separated list from env or flag",
			setup: func(v *viper.Viper) {
				v.Set("attributes.remove", "alt,src")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"alt", "src"}, cfg.Attributes.Remove)
			},
		},
		{
			name: "add entries keep the first of a name",
			setup: func(v *viper.Viper) {
				v.Set("attributes.add", []map[string]interface{}{
					{"name": "Role", "value": " img "},
					{"name": "role", "value": "presentation"},
				})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []reconcile.Attribute{{Name: "role", Value: "img"}}, cfg.Attributes.Add)
			},
		},
		{
			name:   "invalid directive name",
			setup:  func(v *viper.Viper) { v.Set("directives.inline", "1nope") },
			fields: []string{"directives.inline"},
		},
		{
			name:   "identical directives",
			setup:  func(v *viper.Viper) { v.Set("directives.sprite", "v-svg-inline") },
			fields: []string{"directives.sprite"},
		},
		{
			name:   "invalid attribute name",
			setup:  func(v *viper.Viper) { v.Set("attributes.merge", []string{"cla ss"}) },
			fields: []string{"attributes.merge"},
		},
		{
			name:   "unknown backend",
			setup:  func(v *viper.Viper) { v.Set("cache.backend", "etcd") },
			fields: []string{"cache.backend"},
		},
		{
			name:   "namespace with separator",
			setup:  func(v *viper.Viper) { v.Set("cache.namespace", "a:b") },
			fields: []string{"cache.namespace"},
		},
		{
			name:   "unknown flush mode",
			setup:  func(v *viper.Viper) { v.Set("observer.flush", "later") },
			fields: []string{"observer.flush"},
		},
		{
			name:   "relative base url",
			setup:  func(v *viper.Viper) { v.Set("fetch.base_url", "/icons") },
			fields: []string{"fetch.base_url"},
		},
		{
			name:   "zero concurrency",
			setup:  func(v *viper.Viper) { v.Set("fetch.concurrency", 0) },
			fields: []string{"fetch.concurrency"},
		},
		{
			name:   "port out of range",
			setup:  func(v *viper.Viper) { v.Set("server.port", 70000) },
			fields: []string{"server.port"},
		},
		{
			name:   "unknown log level",
			setup:  func(v *viper.Viper) { v.Set("log.level", "verbose") },
			fields: []string{"log.level"},
		},
		{
			name:   "undecodable value",
			setup:  func(v *viper.Viper) { v.Set("server.port", "not-a-port") },
			fields: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.check != nil {
				require.NoError(t, err)
				tt.check(t, cfg)
				return
			}

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, errors.ErrConfigInvalid)

			if len(tt.fields) > 0 {
				var ie *errors.InlineError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, tt.fields, ie.Context["fields"])
			}
		})
	}
}

func TestDecodeSkipsValidation(t *testing.T) {
	v := newViper()
	v.Set("fetch.concurrency", 0)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Fetch.Concurrency)
	assert.True(t, Validate(cfg).HasErrors())
}

func TestValidateWarnings(t *testing.T) {
	cfg := Default()
	cfg.Cache.Persistent = true
	cfg.Cache.Backend = "memory"
	cfg.Server.Port = 80

	result := Validate(cfg)
	assert.True(t, result.Valid)
	assert.True(t, result.HasWarnings())
	assert.Contains(t, result.String(), "cache.persistent")
	assert.Contains(t, result.String(), "server.port")
}

func TestPolicy(t *testing.T) {
	cfg := Default()
	cfg.XHTML = true

	policy := cfg.Policy()
	assert.Equal(t, cfg.Attributes.Merge, policy.Merge)
	assert.Equal(t, []string{"viewbox"}, policy.Clone)
	assert.True(t, policy.XHTML)
}

func TestWriteFileRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Default()
	cfg.Cache.Version = "v2"

	require.NoError(t, WriteFile(fs, DefaultFilename, cfg, false))

	err := WriteFile(fs, DefaultFilename, cfg, false)
	assert.ErrorIs(t, err, errors.ErrConfigInvalid)
	require.NoError(t, WriteFile(fs, DefaultFilename, cfg, true))

	data, err := afero.ReadFile(fs, DefaultFilename)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: v2")

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(string(data))))

	loaded, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadKeepsScalarAttributeValues(t *testing.T) {
	v := newViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
attributes:
  add:
    - name: focusable
      value: false
    - name: tabindex
      value: -1
    - name: aria-hidden
      value: true
    - name: data-scale
      value: 1.5
`)))

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, []reconcile.Attribute{
		{Name: "focusable", Value: "false"},
		{Name: "tabindex", Value: "-1"},
		{Name: "aria-hidden", Value: "true"},
		{Name: "data-scale", Value: "1.5"},
	}, cfg.Attributes.Add)
}
