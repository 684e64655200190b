package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cistern",
		Short: "Read and write any SQL database through named entities",
		Long: `Cistern: a dynamically typed data-access engine for SQL databases.

Cistern introspects your databases, resolves every column to one of six generic
types, and exposes named entities you can pull (with paging) and change through
batched, self-healing commits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cistern.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.cistern)")
	cmd.PersistentFlags().StringVarP(&databaseFlag, "database", "d", "", "database to use (default: the configured default)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newEntityCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newCommitCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cistern")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.cistern")
	}

	viper.SetEnvPrefix("CISTERN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
