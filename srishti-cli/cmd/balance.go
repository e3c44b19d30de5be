package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"srishti-cli/api"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <node-id>",
	Short: "Show a node's KARMA balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(nodeAddr)
		var resp struct {
			NodeID  string  `json:"nodeId"`
			Balance float64 `json:"balance"`
			Pending float64 `json:"pending"`
		}
		if err := client.GetJSON("/balance/"+args[0], &resp); err != nil {
			return err
		}
		fmt.Printf("Balance: %.4f KARMA\n", resp.Balance)
		if resp.Pending > 0 {
			fmt.Printf("Pending: %.4f KARMA\n", resp.Pending)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
