package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/jacklau/autofix/cmd"
)

func main() {
	// A missing .env is fine; config values can come from the real environment.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
