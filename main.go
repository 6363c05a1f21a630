package main

import (
	"os"

	"hivehub.dev/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
