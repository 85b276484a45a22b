package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/isometry/directory-identity/internal/ldap"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printKV renders field/value rows with the field column padded to the
// widest name.
func printKV(w io.Writer, rows [][2]string) {
	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%-*s  %s\n", width, row[0], row[1])
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// printUser renders a user in the selected output format.
func printUser(w io.Writer, user *ldap.User) error {
	if jsonOutput() {
		return printJSON(w, user)
	}

	rows := [][2]string{
		{"Account Name", user.AccountName},
		{"Identity", user.Identity},
		{"Distinguished Name", user.DistinguishedName},
	}
	if user.GUID != "" {
		rows = append(rows, [2]string{"GUID", user.GUID})
	}
	if user.UserPrincipalName != "" {
		rows = append(rows, [2]string{"User Principal Name", user.UserPrincipalName})
	}
	if user.DisplayName != "" {
		rows = append(rows, [2]string{"Display Name", user.DisplayName})
	}
	if user.Email != "" {
		rows = append(rows, [2]string{"Email", user.Email})
	}
	rows = append(rows, [2]string{"Enabled", yesNo(user.Enabled)})
	if user.PrimaryGroup != nil {
		rows = append(rows, [2]string{"Primary Group", user.PrimaryGroup.AccountName})
	}
	if len(user.Groups) > 0 {
		names := make([]string, len(user.Groups))
		for i, g := range user.Groups {
			names[i] = g.AccountName
		}
		rows = append(rows, [2]string{"Groups", strings.Join(names, ", ")})
	}
	printKV(w, rows)

	if len(user.Claims) > 0 {
		fmt.Fprintln(w, "\nClaims:")
		printClaims(w, user.Claims)
	}
	return nil
}

// printGroup renders a group in the selected output format.
func printGroup(w io.Writer, group *ldap.Group) error {
	if jsonOutput() {
		return printJSON(w, group)
	}

	rows := [][2]string{
		{"Name", group.AccountName},
		{"Identity", group.Identity},
		{"Distinguished Name", group.DistinguishedName},
	}
	if group.Description != "" {
		rows = append(rows, [2]string{"Description", group.Description})
	}
	if len(group.MemberOf) > 0 {
		rows = append(rows, [2]string{"Member Of", strings.Join(group.MemberOf, ", ")})
	}
	printKV(w, rows)
	return nil
}

// printClaims renders claims one per line as "type: value".
func printClaims(w io.Writer, claims []ldap.Claim) {
	for _, c := range claims {
		fmt.Fprintf(w, "  %s: %s\n", c.Type, c.Value)
	}
}
