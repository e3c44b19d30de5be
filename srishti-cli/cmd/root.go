package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var nodeAddr string

var rootCmd = &cobra.Command{
	Use:   "srishti",
	Short: "Srishti chain CLI",
	Long:  "A command-line tool for inspecting and interacting with srishti chain nodes.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nodeAddr, "node", "localhost:8080", "node API address (host:port)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
