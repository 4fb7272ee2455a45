package main

import (
	"flag"
	"log"

	"gosupervisor/internal/app"
	"gosupervisor/internal/tui"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON, YAML or TOML config file")
	session := flag.String("session", "", "Resume an existing supervisor session")
	flag.Parse()

	controller := app.New(app.Options{ConfigPath: *configPath, Session: *session})
	if err := tui.Run(controller); err != nil {
		log.Fatalf("tui exited with error: %v", err)
	}
}
