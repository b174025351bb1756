package main

import (
	"os"

	"slackrpc/cmd/slackrpc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
