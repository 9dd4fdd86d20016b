// Package app provides the command line interface of the inventory mirror.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/versions"
)

// NewRootCmd creates a new root command with every subcommand attached.
// Each call returns an independent command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "inventory-mirror",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Mirror OCI resource inventory into relational tables",
		Long: `inventory-mirror periodically lists OCI resources across compartments and regions
and reconciles them into one mirror table per resource kind. Rows absent from the
latest successful listing of their scope are deleted.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML format)")
	flags.String("tenancy", "", "Tenancy OCID, overriding the configuration file")
	flags.StringSlice("region", nil, "Region to reconcile, repeatable; overrides the configuration file")

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newKindsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newViper binds the persistent flags of cmd to a viper instance that also
// reads INVENTORY_MIRROR_* environment variables
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"config", "tenancy", "region"} {
		if err := v.BindPFlag(name, cmd.Flag(name)); err != nil {
			return nil, fmt.Errorf("failed to bind %s flag: %w", name, err)
		}
	}
	return v, nil
}

// loadConfig reads the configuration file and applies flag and environment overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}

	configPath := v.GetString("config")
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ApplyOverrides(v.GetString("tenancy"), v.GetStringSlice("region")); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("Loaded configuration",
		"path", configPath,
		"tenancy_id", cfg.TenancyID,
		"regions", cfg.Regions,
		"kinds", cfg.KindNames(),
		"driver", cfg.GetMirrorDriver())
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "inventory-mirror %s\n", info)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
