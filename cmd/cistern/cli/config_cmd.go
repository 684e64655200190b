package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/cistern/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Cistern configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default cistern.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	path := "cistern.yaml"
	if cfgFile != "" {
		path = cfgFile
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := config.WriteDefaultConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit the file to add your databases, then run 'cistern catalog schemas'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if path := viper.ConfigFileUsed(); path != "" {
		fmt.Fprintf(out, "# Config file: %s\n", path)
	} else {
		fmt.Fprintln(out, "# Config file: (none found, using defaults)")
	}
	fmt.Fprintf(out, "# Data dir:    %s\n", resolveDataDir())

	for i := range cfg.Databases {
		cfg.Databases[i].DSN = redact(cfg.Databases[i].DSN)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

// redact hides everything but the first few characters of a DSN.
func redact(dsn string) string {
	if len(dsn) <= 12 {
		return "********"
	}
	return dsn[:12] + "********"
}
