package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		newLogger(os.Stderr, slog.LevelInfo).Error("esplink failed", "error", err)
		os.Exit(1)
	}
}
