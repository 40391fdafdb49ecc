package main

import (
	"os"

	"github.com/harun/zombiecoder/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
