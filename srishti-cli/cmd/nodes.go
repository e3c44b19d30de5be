package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"srishti-cli/api"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List known nodes and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(nodeAddr)
		var nodes map[string]struct {
			Name       string   `json:"name"`
			ParentIDs  []string `json:"parentIds"`
			IsOnline   bool     `json:"isOnline"`
			LastSeen   int64    `json:"lastSeen"`
			ChildCount int      `json:"childCount"`
			Role       string   `json:"role"`
		}
		if err := client.GetJSON("/nodes", &nodes); err != nil {
			return err
		}
		ids := make([]string, 0, len(nodes))
		for id := range nodes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			n := nodes[id]
			state := "offline"
			if n.IsOnline {
				state = "online"
			}
			last := "never"
			if n.LastSeen > 0 {
				last = time.UnixMilli(n.LastSeen).UTC().Format(time.RFC3339)
			}
			fmt.Printf("%s  %-16s %-7s children=%d role=%s lastSeen=%s\n",
				id, n.Name, state, n.ChildCount, n.Role, last)
		}
		fmt.Printf("\n%d node(s)\n", len(nodes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(nodesCmd)
}
