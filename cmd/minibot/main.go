package main

import (
	"os"

	"github.com/minibot-ai/minibot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
