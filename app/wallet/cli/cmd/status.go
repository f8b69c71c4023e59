package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the chain status of the node",
	Run: func(cmd *cobra.Command, args []string) {
		var info map[string]any
		if err := call("/v1/chain/info", nil, &info); err != nil {
			log.Fatal(err)
		}
		if err := printJSON(info); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
