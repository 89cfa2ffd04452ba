package main

import (
	"os"

	"github.com/edgewatch/edgewatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
