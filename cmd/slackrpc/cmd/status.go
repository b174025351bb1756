package cmd

import (
	"errors"
	"fmt"

	"slackrpc/pkg/activity"
	"slackrpc/pkg/client"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var setStatusOpts activity.Activity

var setStatusCmd = &cobra.Command{
	Use:   "set-status",
	Short: "Set your Slack status from an activity",
	Example: `  slackrpc set-status --name Factorio --details "Building trains"
  slackrpc set-status --name Spotify --state "Daft Punk" --type 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := relayClient()
		if err != nil {
			return err
		}
		if err := c.SetActivity(cmd.Context(), setStatusOpts); err != nil {
			return explain(err)
		}
		st := activity.Format(setStatusOpts, "")
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", text.FgGreen.Sprint("✓"), st.Text)
		return nil
	},
}

var clearStatusCmd = &cobra.Command{
	Use:   "clear-status",
	Short: "Clear your Slack status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := relayClient()
		if err != nil {
			return err
		}
		if err := c.ClearActivity(cmd.Context()); err != nil {
			return explain(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Status cleared\n", text.FgGreen.Sprint("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setStatusCmd, clearStatusCmd)
	setStatusCmd.Flags().StringVar(&setStatusOpts.Name, "name", "", "activity name, e.g. the game")
	setStatusCmd.Flags().StringVar(&setStatusOpts.Details, "details", "", "what you are doing")
	setStatusCmd.Flags().StringVar(&setStatusOpts.State, "state", "", "used when --details is empty")
	setStatusCmd.Flags().IntVar(&setStatusOpts.Type, "type", activity.TypePlaying, "0 playing, 1 streaming, 2 listening, 3 watching, 5 competing")
}

func explain(err error) error {
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return fmt.Errorf("%w: run `slackrpc login` to pair again", err)
	case errors.Is(err, client.ErrRateLimited):
		return fmt.Errorf("%w: at most one update per second", err)
	}
	return err
}
