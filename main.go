package main

import (
	"os"

	"github.com/wegman-software/osmapi-go/cmd"
	"github.com/wegman-software/osmapi-go/internal/logger"
)

func main() {
	defer logger.Sync()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
