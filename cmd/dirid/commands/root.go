// Package commands implements the dirid CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/isometry/directory-identity/internal/config"
	"github.com/isometry/directory-identity/internal/ldap"
	"github.com/isometry/directory-identity/internal/logger"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile      string
	logLevel     string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dirid",
	Short: "Directory identity lookups and authentication checks",
	Long: `dirid authenticates users against an LDAP directory and maps their
entries into users, groups and claims. It speaks to Active Directory
and OpenLDAP/POSIX directories through a configurable schema mapping.

Use "dirid [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with the given context. This is
// called by main.main().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dirid/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dirid %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

// loadConfig reads the configuration honoring the global --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newStore loads configuration and assembles the directory store shared
// by the lookup commands. Logs go to stderr so stdout stays parseable.
func newStore() (*ldap.Store, zerolog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log := logger.New(os.Stderr, level, cfg.Logging.Format)

	store, err := ldap.NewStore(&cfg.Directory, ldap.WithLogger(log))
	if err != nil {
		return nil, log, err
	}
	return store, log, nil
}

// jsonOutput reports whether the global --output flag selects JSON.
func jsonOutput() bool {
	return strings.EqualFold(outputFormat, "json")
}
