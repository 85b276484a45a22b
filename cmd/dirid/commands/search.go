package commands

import (
	"fmt"
	"os"

	"github.com/go-ldap/ldap/v3"
	"github.com/spf13/cobra"
)

var (
	searchBase  string
	searchAttrs []string
)

var searchCmd = &cobra.Command{
	Use:   "search <filter>",
	Short: "Run a raw directory search",
	Long: `Run a raw LDAP search with the given filter and print the matching
entries in LDIF-like form. Searches every configured base unless --base
narrows it to a single subtree.

Examples:
  # All entries matching a filter
  dirid search "(objectClass=organizationalUnit)"

  # Specific attributes under one base
  dirid search "(mail=*)" --base OU=People,DC=example,DC=com -a mail -a cn`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchBase, "base", "", "search a single base DN instead of the configured bases")
	searchCmd.Flags().StringArrayVarP(&searchAttrs, "attr", "a", nil, "attribute to fetch (repeatable; all when omitted)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	store, _, err := newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Search(cmd.Context(), searchBase, args[0], searchAttrs)
	if err != nil {
		return err
	}

	if jsonOutput() {
		out := make([]entryOutput, len(entries))
		for i, e := range entries {
			out[i] = newEntryOutput(e)
		}
		return printJSON(os.Stdout, out)
	}

	for _, e := range entries {
		fmt.Fprintf(os.Stdout, "dn: %s\n", e.DN)
		for _, attr := range e.Attributes {
			for _, v := range attr.Values {
				fmt.Fprintf(os.Stdout, "%s: %s\n", attr.Name, v)
			}
		}
		fmt.Fprintln(os.Stdout)
	}
	fmt.Fprintf(os.Stdout, "Total: %d\n", len(entries))
	return nil
}

// entryOutput is the JSON shape of a raw entry.
type entryOutput struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`
}

func newEntryOutput(e *ldap.Entry) entryOutput {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = a.Values
	}
	return entryOutput{DN: e.DN, Attributes: attrs}
}
