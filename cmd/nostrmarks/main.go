package main

import (
	"log"

	"github.com/MrSnakeDoc/nostrmarks/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ nostrmarks failed to start: %v", err)
	}
}
