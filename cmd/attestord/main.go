package main

import (
	"os"

	"github.com/gurufinglobal/attestor/attestor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
