package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the service account's authorization identity",
	Long: `Ask the directory which authorization identity the configured service
account is bound as (RFC 4532). Useful for verifying bind credentials
and Kerberos setup.`,
	RunE: runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.WhoAmI(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(os.Stdout, id)
	}
	printKV(os.Stdout, [][2]string{
		{"AuthzID", id.Raw},
		{"Format", id.Format.String()},
		{"Value", id.Value},
	})
	return nil
}
