package main

import (
	"context"
	"log"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/app"
)

func main() {
	cfg := app.LoadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
