package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/directory-identity/internal/ldap"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User lookups",
	Long: `Look up directory users and inspect their mapped form.

Examples:
  # Look up by account name
  dirid user get alice

  # Look up by stable identity (SID or uidNumber)
  dirid user get S-1-5-21-3623811015-3361044348-30300820-1013 --by identity

  # Look up by distinguished name
  dirid user get "CN=Alice,OU=People,DC=example,DC=com" --by dn

  # List all users under the configured search bases
  dirid user list

  # List with a filter override
  dirid user list --filter "(&(objectClass=user)(department=Engineering))"

  # Show the claims an account would receive
  dirid user claims alice`,
}

var (
	userGetBy      string
	userListFilter string
	userClaimsRaw  bool
)

var userGetCmd = &cobra.Command{
	Use:   "get <value>",
	Short: "Get a user by name, identity or DN",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserGet,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  runUserList,
}

var userClaimsCmd = &cobra.Command{
	Use:   "claims <account>",
	Short: "Show the claims issued for an account",
	Long: `Show the claims an account would receive. By default the account is
fully mapped first, so group claims carry resolved group names. With
--raw the claims are derived straight from the directory entry and
group claims carry the raw membership values.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserClaims,
}

func init() {
	userGetCmd.Flags().StringVar(&userGetBy, "by", "name", "lookup key: name, identity or dn")
	userListCmd.Flags().StringVar(&userListFilter, "filter", "", "search filter override")
	userClaimsCmd.Flags().BoolVar(&userClaimsRaw, "raw", false, "derive claims from the raw entry")

	userCmd.AddCommand(userGetCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userClaimsCmd)
}

func runUserGet(cmd *cobra.Command, args []string) error {
	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	value := args[0]
	ctx := cmd.Context()

	var user *ldap.User
	switch strings.ToLower(userGetBy) {
	case "name":
		user, err = store.GetUserByAccountName(ctx, value)
	case "identity":
		user, err = store.GetUserByIdentity(ctx, value)
	case "dn":
		user, err = store.GetUserByDistinguishedName(ctx, value)
	default:
		return fmt.Errorf("unknown lookup key %q: use name, identity or dn", userGetBy)
	}
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", value)
	}

	return printUser(os.Stdout, user)
}

func runUserList(cmd *cobra.Command, args []string) error {
	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.GetUsers(cmd.Context(), userListFilter)
	if err != nil {
		return err
	}

	if jsonOutput() {
		list, err := users.Collect()
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, list)
	}

	defer users.Close()
	fmt.Fprintf(os.Stdout, "%-24s %-28s %s\n", "ACCOUNT", "IDENTITY", "DN")
	n := 0
	for users.Next() {
		u := users.User()
		fmt.Fprintf(os.Stdout, "%-24s %-28s %s\n", u.AccountName, u.Identity, u.DistinguishedName)
		n++
	}
	if err := users.Err(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nTotal: %d\n", n)
	return nil
}

func runUserClaims(cmd *cobra.Command, args []string) error {
	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	account := args[0]
	ctx := cmd.Context()

	if userClaimsRaw {
		claims, err := store.GetEntryClaims(ctx, account)
		if err != nil {
			return err
		}
		if claims == nil {
			return fmt.Errorf("user %q not found", account)
		}
		if jsonOutput() {
			return printJSON(os.Stdout, claims)
		}
		printClaims(os.Stdout, claims)
		return nil
	}

	user, err := store.GetUserByAccountName(ctx, account)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", account)
	}
	if jsonOutput() {
		return printJSON(os.Stdout, user.Claims)
	}
	printClaims(os.Stdout, user.Claims)
	return nil
}
