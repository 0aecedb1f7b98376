package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/inlinesvg/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage inlinesvg configuration",
	Long: `Manage inlinesvg configuration files and settings.

Examples:
  inlinesvg config init                 # Write the defaults to .inlinesvg.yml
  inlinesvg config validate             # Validate the current configuration
  inlinesvg config validate --strict    # Treat warnings as errors
  inlinesvg config show --format json   # Show the resolved configuration`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the resolved configuration: file, environment and flags.

This command checks for:
- Directive and attribute names
- Cache generation, backend and storage path
- Observer flush mode and thresholds
- Fetch base URL, timeouts and concurrency
- Server host and port`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var (
	configOutput string
	configForce  bool
	configStrict bool
	configFormat string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringVarP(&configOutput, "output", "o", config.DefaultFilename, "Output configuration file")
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")

	configValidateCmd.Flags().BoolVar(&configStrict, "strict", false, "Treat warnings as errors")

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
	AddFlagValidation(configShowCmd, "format", ValidateChoice("yaml", "json"))
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.WriteFile(appFs, configOutput, config.Default(), configForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return err
	}

	result := config.Validate(cfg)
	out := cmd.OutOrStdout()
	if result.HasErrors() || result.HasWarnings() {
		fmt.Fprint(out, result.String())
	}

	if result.HasErrors() {
		return result.Err()
	}
	if configStrict && result.HasWarnings() {
		return fmt.Errorf("configuration has %d warning(s)", len(result.Warnings))
	}

	fmt.Fprintln(out, "Configuration is valid")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if configFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
