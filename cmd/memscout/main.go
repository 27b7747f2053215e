package main

import (
	"os"

	"github.com/memscout/memscout/cmd/memscout/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
