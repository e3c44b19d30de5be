package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"srishti-cli/api"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event-related operations (submit, etc)",
}

var eventSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new event to the node's pool",
	Run: func(cmd *cobra.Command, args []string) {
		eventType, _ := cmd.Flags().GetString("type")
		sender, _ := cmd.Flags().GetString("sender")
		recipient, _ := cmd.Flags().GetString("recipient")
		nodeID, _ := cmd.Flags().GetString("node-id")
		name, _ := cmd.Flags().GetString("name")
		parent, _ := cmd.Flags().GetString("parent")
		token, _ := cmd.Flags().GetString("token")
		if eventType == "" {
			fmt.Println("Event type is required.")
			os.Exit(1)
		}
		body := map[string]interface{}{
			"type":      eventType,
			"timestamp": time.Now().UnixMilli(),
		}
		if sender != "" {
			body["sender"] = sender
		}
		if recipient != "" {
			body["recipient"] = recipient
		}
		if nodeID != "" {
			body["nodeId"] = nodeID
		}
		if name != "" {
			body["name"] = name
		}
		if parent != "" {
			body["parentId"] = parent
		}
		client := api.NewClient(nodeAddr)
		var resp map[string]interface{}
		if err := client.PostJSON("/submit_event", body, token, &resp); err != nil {
			fmt.Println("Submission failed:", err)
			os.Exit(1)
		}
		fmt.Println("Event submitted successfully!")
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(eventSubmitCmd)
	eventSubmitCmd.Flags().String("type", "", "Event type (required)")
	eventSubmitCmd.Flags().String("sender", "", "Sender node ID")
	eventSubmitCmd.Flags().String("recipient", "", "Recipient node ID")
	eventSubmitCmd.Flags().String("node-id", "", "Subject node ID")
	eventSubmitCmd.Flags().String("name", "", "Node name")
	eventSubmitCmd.Flags().String("parent", "", "Parent node ID")
	eventSubmitCmd.Flags().String("token", "", "Governance bearer token")
}
