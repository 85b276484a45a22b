package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/directory-identity/internal/ldap"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Group lookups",
	Long: `Look up directory groups and their memberships.

Examples:
  # Look up by name
  dirid group get Engineering

  # Look up by stable identity
  dirid group get S-1-5-21-3623811015-3361044348-30300820-513 --by identity

  # Groups a group is itself a member of, nested
  dirid group memberships Engineering --nested`,
}

var (
	groupGetBy             string
	groupMembershipsNested bool
)

var groupGetCmd = &cobra.Command{
	Use:   "get <value>",
	Short: "Get a group by name or identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupGet,
}

var groupMembershipsCmd = &cobra.Command{
	Use:   "memberships <name>",
	Short: "Show the groups a group is a member of",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupMemberships,
}

func init() {
	groupGetCmd.Flags().StringVar(&groupGetBy, "by", "name", "lookup key: name or identity")
	groupMembershipsCmd.Flags().BoolVar(&groupMembershipsNested, "nested", false, "chase nested memberships")

	groupCmd.AddCommand(groupGetCmd)
	groupCmd.AddCommand(groupMembershipsCmd)
}

func runGroupGet(cmd *cobra.Command, args []string) error {
	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	value := args[0]
	ctx := cmd.Context()

	var group *ldap.Group
	switch strings.ToLower(groupGetBy) {
	case "name":
		group, err = store.GetGroupByName(ctx, value)
	case "identity":
		group, err = store.GetGroupByIdentity(ctx, value)
	default:
		return fmt.Errorf("unknown lookup key %q: use name or identity", groupGetBy)
	}
	if err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("group %q not found", value)
	}

	return printGroup(os.Stdout, group)
}

func runGroupMemberships(cmd *cobra.Command, args []string) error {
	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	group, err := store.GetGroupByName(ctx, args[0])
	if err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("group %q not found", args[0])
	}

	memberships, err := store.GetGroupMemberships(ctx, group, groupMembershipsNested)
	if err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(os.Stdout, memberships)
	}
	for _, g := range memberships {
		fmt.Fprintf(os.Stdout, "%-24s %s\n", g.AccountName, g.DistinguishedName)
	}
	fmt.Fprintf(os.Stdout, "\nTotal: %d\n", len(memberships))
	return nil
}
