// cmd/server/main.go
package main

import (
	"context"
	"log"

	"github.com/Corphon/ManimStudio/internal/app"
	"github.com/Corphon/ManimStudio/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := app.Initialize(context.Background(), cfg); err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	log.Printf("ManimStudio listening on http://localhost:%s", cfg.Port)

	if err := app.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
