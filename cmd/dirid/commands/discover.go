package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the server's default naming context",
	Long: `Read the root DSE and print the directory's default naming context.
Useful for checking the configured search bases against the server's
own topology.`,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	baseDN, err := store.DiscoverBaseDN(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(os.Stdout, map[string]string{"baseDN": baseDN})
	}
	fmt.Fprintln(os.Stdout, baseDN)
	return nil
}
