// @title BBBAB Sync
// @version 0.1
// @description Conversation sync engine for the BBBAB messenger.

// @host localhost:8081
// @BasePath /
// @query.collection.format multi
// @schemes http

package main

import (
	"log"

	_ "tush00nka/bbbab_sync/docs"
	"tush00nka/bbbab_sync/internal/app"
	"tush00nka/bbbab_sync/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	app.Run(cfg)
}
