package main

import (
	"os"

	"github.com/manthysbr/censord/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
