// Package browser opens the Slack authorization page on the user's machine.
package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// ErrNoBrowser means no way to open a browser was found. On a headless
// machine the URL has to be opened elsewhere.
var ErrNoBrowser = errors.New("could not find a browser to open")

// start launches a command without waiting for it.
var start = func(name string, args ...string) error {
	return exec.Command(name, args...).Start()
}

// Open opens a URL in the default browser for the current platform
func Open(url string) error {
	return open(runtime.GOOS, os.Getenv("BROWSER"), url)
}

func open(goos, envBrowser, url string) error {
	if envBrowser != "" {
		if err := start(envBrowser, url); err != nil {
			return fmt.Errorf("failed to run $BROWSER: %w", err)
		}
		return nil
	}

	switch goos {
	case "darwin":
		return wrap(start("open", url))
	case "windows":
		return wrap(start("rundll32", "url.dll,FileProtocolHandler", url))
	case "linux", "freebsd", "openbsd", "netbsd":
		// Different distros have different defaults
		for _, c := range []string{"xdg-open", "x-www-browser", "www-browser"} {
			if err := start(c, url); err == nil {
				return nil
			}
		}
		return ErrNoBrowser
	default:
		return fmt.Errorf("unsupported platform: %s", goos)
	}
}

func wrap(err error) error {
	if err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
