package main

import (
	"log/slog"

	"github.com/els0r/telemetry/logging"

	"github.com/ssbabel/ssbabeld/cmd/ssbabeld/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		logger, _ := logging.New(slog.LevelInfo, "logfmt")
		logger.With("error", err).Fatal("ssbabeld terminated with an error")
	}
}
