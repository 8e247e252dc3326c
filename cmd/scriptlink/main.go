package main

import (
	"context"
	"os"

	"github.com/filegrind/scriptlink-go/config"
)

var version = "dev"

func main() {
	logger := config.Default().NewLogger(os.Stderr)
	root := newRootCmd(version)
	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
