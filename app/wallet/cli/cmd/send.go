package cmd

import (
	"fmt"
	"log"
	"math/big"

	"github.com/spf13/cobra"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
)

var (
	to     string
	amount int64
	fee    int64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := loadKey()
		if err != nil {
			log.Fatal(err)
		}

		toAddr, err := database.ToAddress(to)
		if err != nil {
			log.Fatal(err)
		}

		tx, err := database.NewTransaction(toAddr, big.NewInt(amount), big.NewInt(fee))
		if err != nil {
			log.Fatal(err)
		}
		if err := tx.Sign(privateKey); err != nil {
			log.Fatal(err)
		}

		var resp struct {
			Status string `json:"status"`
			Hash   string `json:"hash"`
		}
		if err := call("/v1/tx/submit", peer.NewTxMsg(tx), &resp); err != nil {
			log.Fatal(err)
		}

		fmt.Println(resp.Status, resp.Hash)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address of the receiver.")
	sendCmd.Flags().Int64VarP(&amount, "amount", "v", 0, "Amount to send.")
	sendCmd.Flags().Int64VarP(&fee, "fee", "f", 0, "Fee paid to the forger.")
	sendCmd.MarkFlagRequired("to")
}
