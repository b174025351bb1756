package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored relay token",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := storage()
		if !s.Exists() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
			return nil
		}
		if err := s.Delete(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", s.Path())
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored pairing",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := storage().Load()
		if err != nil {
			return err
		}

		where := "file"
		if creds.Keyring {
			where = "keyring"
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendRows([]table.Row{
			{"Server", creds.ServerURL},
			{"Hostname", creds.Hostname},
			{"Paired", creds.PairedAt.Local().Format(time.RFC1123)},
			{"Token", maskToken(creds.Token) + " (" + where + ")"},
		})
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd, whoamiCmd)
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "****"
	}
	return tok[:4] + "…" + tok[len(tok)-4:]
}
