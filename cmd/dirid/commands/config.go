package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration and run the full set of semantic checks without
touching the directory.`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as JSON",
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bases := make([]string, len(cfg.Directory.SearchBases))
	for i, base := range cfg.Directory.SearchBases {
		bases[i] = base.DN
	}

	fmt.Fprintln(os.Stdout, "Configuration OK")
	printKV(os.Stdout, [][2]string{
		{"Schema", cfg.Directory.Schema},
		{"Servers", strings.Join(cfg.Directory.Servers, ", ")},
		{"Search Bases", strings.Join(bases, ", ")},
		{"Security", string(cfg.Directory.Security)},
		{"Selection Policy", string(cfg.Directory.SelectionPolicy)},
		{"Cache Mode", string(cfg.Directory.CacheMode)},
	})
	return nil
}

// runConfigShow prints the loaded configuration. Secrets carry a json:"-"
// tag and never appear in the output.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, cfg)
}
