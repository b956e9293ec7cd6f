package main

import (
	"os"

	"github.com/agentcloud/cloud-agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
