package cmd

import (
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type account struct {
	Account     common.Address `json:"account"`
	Name        string         `json:"name"`
	Balance     *big.Int       `json:"balance"`
	ForgePower  *big.Int       `json:"forge_power"`
	StateHeight uint64         `json:"state_height"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the balance and forging power of the wallet.",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := loadKey()
	if err != nil {
		log.Fatal(err)
	}

	addr := crypto.PubkeyToAddress(privateKey.PublicKey)
	fmt.Println("For Account:", addr)

	var accounts []account
	if err := call("/v1/accounts/list/"+addr.Hex(), nil, &accounts); err != nil {
		log.Fatal(err)
	}

	for _, a := range accounts {
		fmt.Println("Balance:", a.Balance)
		fmt.Println("Power:  ", a.ForgePower)
	}
}
