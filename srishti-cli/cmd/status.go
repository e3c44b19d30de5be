package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"srishti-cli/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the node's chain status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(nodeAddr)
		var status struct {
			NodeID  string `json:"nodeId"`
			Height  int    `json:"height"`
			TipHash string `json:"tipHash"`
			Pending int    `json:"pendingEvents"`
		}
		if err := client.GetJSON("/status", &status); err != nil {
			return err
		}
		fmt.Printf("Node:    %s\n", status.NodeID)
		fmt.Printf("Height:  %d\n", status.Height)
		fmt.Printf("Tip:     %s\n", status.TipHash)
		fmt.Printf("Pending: %d events\n", status.Pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
