// This program is a simple wallet for the TauCoin node.
package main

import "github.com/taucoin/blockchain/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
