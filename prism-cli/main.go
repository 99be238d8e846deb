package main

import (
	"os"

	"prism-plan/prism-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
