package main

import (
	"log/slog"
	"os"

	"github.com/onemail/sync-core/cmd/synccore/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		slog.Error("synccore: exited with error", "err", err)
		os.Exit(1)
	}
}
