package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"medrag/internal/cli"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	if err := cli.Run(context.Background(), os.Args, version); err != nil {
		os.Exit(1)
	}
}
