// Package config provides configuration management for the inliner using
// Viper for loading from files, environment variables and command-line
// flags.
//
// Configuration is read from .inlinesvg.yml, overridden by INLINESVG_
// environment variables and flags. It covers directive naming, the attribute
// policy, cache generations and storage, lazy activation, fetching and the
// development server.
package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/reconcile"
)

// Flush modes for lazy elements at the end of a render.
const (
	FlushVisible = "visible"
	FlushDefer   = "defer"
)

type Config struct {
	Directives DirectivesConfig `yaml:"directives" mapstructure:"directives"`
	Attributes AttributesConfig `yaml:"attributes" mapstructure:"attributes"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Observer   ObserverConfig   `yaml:"observer" mapstructure:"observer"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	XHTML      bool             `yaml:"xhtml" mapstructure:"xhtml"`
}

type DirectivesConfig struct {
	Inline string `yaml:"inline" mapstructure:"inline"`
	Sprite string `yaml:"sprite" mapstructure:"sprite"`
}

// Names returns the configured directive attribute names.
func (d DirectivesConfig) Names() []string {
	return []string{d.Inline, d.Sprite}
}

type AttributesConfig struct {
	Clone  []string              `yaml:"clone" mapstructure:"clone"`
	Merge  []string              `yaml:"merge" mapstructure:"merge"`
	Add    []reconcile.Attribute `yaml:"add" mapstructure:"add"`
	Data   []string              `yaml:"data" mapstructure:"data"`
	Remove []string              `yaml:"remove" mapstructure:"remove"`
}

type CacheConfig struct {
	Namespace       string `yaml:"namespace" mapstructure:"namespace"`
	Version         string `yaml:"version" mapstructure:"version"`
	Persistent      bool   `yaml:"persistent" mapstructure:"persistent"`
	RemoveRevisions bool   `yaml:"remove_revisions" mapstructure:"remove_revisions"`
	Backend         string `yaml:"backend" mapstructure:"backend"`
	Path            string `yaml:"path" mapstructure:"path"`
	RedisAddr       string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisDB         int    `yaml:"redis_db" mapstructure:"redis_db"`
}

type ObserverConfig struct {
	Enabled    bool      `yaml:"enabled" mapstructure:"enabled"`
	Flush      string    `yaml:"flush" mapstructure:"flush"`
	RootMargin string    `yaml:"root_margin" mapstructure:"root_margin"`
	Threshold  []float64 `yaml:"threshold" mapstructure:"threshold"`
}

type FetchConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Root        string        `yaml:"root" mapstructure:"root"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("directives.inline", "v-svg-inline")
	v.SetDefault("directives.sprite", "v-svg-inline-sprite")

	v.SetDefault("attributes.clone", []string{"viewbox"})
	v.SetDefault("attributes.merge", []string{"class", "style"})
	v.SetDefault("attributes.add", []map[string]interface{}{
		{"name": "focusable", "value": "false"},
		{"name": "role", "value": "presentation"},
		{"name": "tabindex", "value": "-1"},
	})
	v.SetDefault("attributes.data", []string{})
	v.SetDefault("attributes.remove", []string{"alt", "src", "data-src"})

	v.SetDefault("cache.namespace", "inlinesvg")
	v.SetDefault("cache.version", "1")
	v.SetDefault("cache.persistent", false)
	v.SetDefault("cache.remove_revisions", true)
	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.path", ".inlinesvg/cache")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("observer.enabled", true)
	v.SetDefault("observer.flush", FlushVisible)
	v.SetDefault("observer.root_margin", "0px")
	v.SetDefault("observer.threshold", []float64{0})

	v.SetDefault("fetch.base_url", "")
	v.SetDefault("fetch.root", ".")
	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.rate_limit", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.concurrency", 8)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("xhtml", false)
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadFrom(v)
	if err != nil {
		// defaults are valid by construction
		panic(err)
	}
	return cfg
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals, normalizes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	result := Validate(cfg)
	if result.HasErrors() {
		return nil, result.Err()
	}
	return cfg, nil
}

// decodeHook extends viper's default hooks so YAML booleans keep their
// spelling when decoded into string fields such as attribute values.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		boolToStringHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func boolToStringHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.Bool || to.Kind() != reflect.String {
		return data, nil
	}
	return strconv.FormatBool(reflect.ValueOf(data).Bool()), nil
}

// Decode unmarshals and normalizes the configuration held by v without
// validating it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, errors.WrapConfig(err, "failed to decode configuration")
	}

	// Slices set through flags or env arrive as a single comma separated
	// string.
	for key, dst := range map[string]*[]string{
		"attributes.clone":  &cfg.Attributes.Clone,
		"attributes.merge":  &cfg.Attributes.Merge,
		"attributes.data":   &cfg.Attributes.Data,
		"attributes.remove": &cfg.Attributes.Remove,
	} {
		if v.IsSet(key) {
			*dst = splitList(v.GetStringSlice(key))
		}
	}

	cfg.Normalize()
	return &cfg, nil
}

// Normalize trims and lower-cases every name and removes duplicates, keeping
// the first occurrence.
func (c *Config) Normalize() {
	c.Directives.Inline = normalizeName(c.Directives.Inline)
	c.Directives.Sprite = normalizeName(c.Directives.Sprite)

	c.Attributes.Clone = normalizeNames(c.Attributes.Clone)
	c.Attributes.Merge = normalizeNames(c.Attributes.Merge)
	c.Attributes.Data = normalizeNames(c.Attributes.Data)
	c.Attributes.Remove = normalizeNames(c.Attributes.Remove)

	seen := make(map[string]struct{}, len(c.Attributes.Add))
	add := make([]reconcile.Attribute, 0, len(c.Attributes.Add))
	for _, a := range c.Attributes.Add {
		a.Name = normalizeName(a.Name)
		a.Value = strings.TrimSpace(a.Value)
		if _, ok := seen[a.Name]; ok {
			continue
		}
		seen[a.Name] = struct{}{}
		add = append(add, a)
	}
	c.Attributes.Add = add

	c.Cache.Namespace = strings.TrimSpace(c.Cache.Namespace)
	c.Cache.Version = strings.TrimSpace(c.Cache.Version)
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Observer.Flush = strings.ToLower(strings.TrimSpace(c.Observer.Flush))
	c.Fetch.BaseURL = strings.TrimSpace(c.Fetch.BaseURL)
}

// Policy returns the reconciliation rules.
func (c *Config) Policy() reconcile.Policy {
	return reconcile.Policy{
		Clone:  c.Attributes.Clone,
		Merge:  c.Attributes.Merge,
		Add:    c.Attributes.Add,
		Data:   c.Attributes.Data,
		Remove: c.Attributes.Remove,
		XHTML:  c.XHTML,
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = normalizeName(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}
