package cmd

import (
	"os"

	"slackrpc/pkg/client"
	"slackrpc/pkg/token"

	"github.com/spf13/cobra"
)

var (
	credentialsPath string
	serverURL       string
)

var rootCmd = &cobra.Command{
	Use:   "slackrpc",
	Short: "Relay your rich presence to your Slack status",
	Long: `slackrpc shows what you are playing, watching or listening to as your
Slack status.

Pair this machine once:
  slackrpc login --url https://slackrpc.example.com

Your browser opens, you approve the Slack app, and the relay token is stored
locally. Statuses are then set with "slackrpc set-status".`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&credentialsPath, "credentials", token.DefaultPath(), "path of the stored credentials")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "relay server URL (defaults to the one used at login)")
}

func Execute() error {
	return rootCmd.Execute()
}

func storage() *token.Storage {
	return token.NewStorage(credentialsPath)
}

// relayClient builds a client from the stored credentials, SLACKRPC_AUTH_KEY
// and --url.
func relayClient() (*client.Client, error) {
	creds, err := storage().Resolve(os.Getenv, serverURL)
	if err != nil {
		return nil, err
	}
	return client.New(creds.ServerURL, client.WithToken(creds.Token))
}
