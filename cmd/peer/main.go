package main

import (
	"os"

	"github.com/dkeye/Duet/internal/ui"
)

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.Printer{W: os.Stderr}.Error(err.Error())
		os.Exit(1)
	}
}
