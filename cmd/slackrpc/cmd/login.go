package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"slackrpc/pkg/browser"
	"slackrpc/pkg/client"
	"slackrpc/pkg/pairing"
	"slackrpc/pkg/token"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var loginOpts struct {
	hostname   string
	interval   time.Duration
	attempts   int
	noBrowser  bool
	qr         bool
	useKeyring bool
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Pair this machine with your Slack account",
	Long: `Pair this machine with your Slack account.

A one-time code is registered with the relay and a Slack authorization page
is opened. Once you approve, the relay token is stored locally.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginOpts.hostname, "hostname", "", "name of this machine (default: os hostname)")
	loginCmd.Flags().DurationVar(&loginOpts.interval, "interval", 5*time.Second, "poll interval while waiting for authorization")
	loginCmd.Flags().IntVar(&loginOpts.attempts, "attempts", 120, "number of polls before giving up")
	loginCmd.Flags().BoolVar(&loginOpts.noBrowser, "no-browser", false, "print the URL instead of opening a browser")
	loginCmd.Flags().BoolVar(&loginOpts.qr, "qr", false, "also print the URL as a QR code")
	loginCmd.Flags().BoolVar(&loginOpts.useKeyring, "keyring", false, "store the relay token in the OS keyring")
}

func runLogin(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if serverURL == "" {
		return errors.New("--url is required for login")
	}
	hostname := loginOpts.hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to read hostname, pass --hostname: %w", err)
		}
		hostname = h
	}
	if loginOpts.attempts < 1 || loginOpts.interval <= 0 {
		return errors.New("--attempts and --interval must be positive")
	}

	c, err := client.New(serverURL)
	if err != nil {
		return err
	}

	code, err := pairing.GenerateCode()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fmt.Fprintf(out, "🔗 Connecting to %s...\n", serverURL)
	authURL, err := c.StartPairing(ctx, code, hostname)
	if err != nil {
		if errors.Is(err, client.ErrRateLimited) {
			return errors.New("you are generating too many URLs, wait a minute and try again")
		}
		return fmt.Errorf("failed to start login: %w", err)
	}

	if loginOpts.noBrowser {
		fmt.Fprintf(out, "\nOpen this URL to authorize Slack:\n%s\n\n", authURL)
	} else if err := browser.Open(authURL); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\n", err)
		fmt.Fprintf(out, "\nPlease visit this URL manually:\n%s\n\n", authURL)
	} else {
		fmt.Fprintf(out, "🔐 If the browser doesn't open, visit:\n%s\n\n", authURL)
	}
	if loginOpts.qr {
		if err := printQR(out, authURL); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not render QR code: %v\n", err)
		}
	}

	tok, err := waitForToken(ctx, cmd.ErrOrStderr(), c, code)
	if err != nil {
		return err
	}

	creds := &token.Credentials{
		ServerURL: serverURL,
		Token:     tok,
		Hostname:  hostname,
		PairedAt:  time.Now().UTC(),
	}
	if err := storage().Save(creds, loginOpts.useKeyring); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s\n", text.FgGreen.Sprint("✅ Authentication successful!"))
	fmt.Fprintf(out, "✅ Credentials saved to: %s\n", storage().Path())
	return nil
}

func waitForToken(ctx context.Context, errOut io.Writer, c *client.Client, code string) (string, error) {
	var s *spinner.Spinner
	if f, ok := errOut.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(errOut))
		s.Suffix = " Waiting for authentication to complete..."
		s.Start()
	} else {
		fmt.Fprintln(errOut, "⏳ Waiting for authentication to complete...")
	}

	tok, err := c.WaitForToken(ctx, code, loginOpts.interval, loginOpts.attempts)
	if s != nil {
		s.Stop()
	}
	if errors.Is(err, client.ErrPairingTimeout) {
		return "", fmt.Errorf("%w, run `slackrpc login` again", err)
	}
	return tok, err
}

func printQR(w io.Writer, content string) error {
	q, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, q.ToSmallString(false))
	return err
}
