// Package cmd provides the command-line interface for inlinesvg.
//
// Configuration sources, highest priority first:
//
//  1. Command-line flags (--config, --port, --log-level, ...)
//  2. INLINESVG_CONFIG_FILE naming a configuration file
//  3. Environment variables following INLINESVG_<SECTION>_<OPTION>
//  4. .inlinesvg.yml in the working directory
//
// Examples:
//
//	INLINESVG_CACHE_VERSION=2 inlinesvg inline -o dist site/
//	INLINESVG_FETCH_BASE_URL=https://cdn.example.com/icons/ inlinesvg serve site
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/inlinesvg/internal/config"
	"github.com/conneroisu/inlinesvg/internal/inliner"
	"github.com/conneroisu/inlinesvg/internal/logging"
)

var cfgFile string

// appFs is the filesystem commands read pages from and write output to.
var appFs afero.Fs = afero.NewOsFs()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "inlinesvg",
	Short: "Replace SVG image references in HTML with inline SVG markup",
	Long: `inlinesvg replaces <img> elements that reference SVG files with the SVG
markup itself, so the icons can be styled with CSS.

Elements opt in with a directive attribute:

  <img v-svg-inline src="icons/star.svg" class="icon">
  <img v-svg-inline-sprite data-src="icons/star.svg">

Sprite elements share one <symbol> per file through <use> references.
Elements using data-src are lazy and are inlined once they become visible.

Quick Start:
  inlinesvg config init            Write a default .inlinesvg.yml
  inlinesvg inline -o dist site/   Inline every page below site/
  inlinesvg serve site             Preview pages with live reload
  inlinesvg cache list             Show stored cache generations`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is .inlinesvg.yml, can also use INLINESVG_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// initConfig registers the defaults and locates the configuration file.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("INLINESVG_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.DefaultFilename, ".yml"))
	}

	viper.SetEnvPrefix("INLINESVG")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or unreadable file leaves the defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// setup loads the configuration and installs the inliner.
func setup(ctx context.Context) (*config.Config, logging.Logger, *inliner.Plugin, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg)

	plugin, err := inliner.Install(ctx, cfg, logger, inliner.WithFs(appFs))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to install inliner: %w", err)
	}
	return cfg, logger, plugin, nil
}
