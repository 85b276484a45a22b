package commands

import (
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Authenticate a user and show the mapped result",
	Long: `Authenticate a user against the directory by binding with their
credentials, then look up their entry and map it with groups resolved
and claims attached.

The username may be an account name (alice), a down-level logon name
(EXAMPLE\alice) or a user principal name (alice@example.com).

Examples:
  # Prompt for the password
  dirid login alice

  # Password on the command line (visible in shell history)
  dirid login alice@example.com -p secret

  # JSON output
  dirid login alice -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (prompted when omitted)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		var err error
		password, err = promptPassword("Password")
		if err != nil {
			return err
		}
	}

	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.LoginUser(cmd.Context(), args[0], password)
	if err != nil {
		return err
	}

	return printUser(os.Stdout, user)
}

// promptPassword reads a masked password from the terminal.
func promptPassword(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}

	result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return result, nil
}
