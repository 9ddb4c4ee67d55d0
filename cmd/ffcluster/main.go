package main

import (
	"os"

	"github.com/mlsmithjr/transcoder/cmd/ffcluster/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
