package main

import (
	"os"

	"github.com/solatis/policykeeper/cmd/policykeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
