package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "bookmind"}

	root.AddCommand(ingestCMD(), queryCMD(), evaluateCMD(), deleteCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
