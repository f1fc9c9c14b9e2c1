package main

import (
	app "ad-decision-engine/internal/app/server"
	"ad-decision-engine/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	app.Run(cfg)
}
