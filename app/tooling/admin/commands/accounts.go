package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// Accounts prints the committed state of one account, or of every account
// when no address is given.
func Accounts(w io.Writer, repo *database.Repo, address string) error {
	if address != "" {
		addr, err := database.ToAddress(address)
		if err != nil {
			return err
		}

		as := repo.GetAccountState(addr)
		if as == nil {
			return fmt.Errorf("account %s not found", addr)
		}

		printAccount(w, addr, as)
		return nil
	}

	dump, err := repo.Dump()
	if err != nil {
		return err
	}

	addrs := make([]common.Address, 0, len(dump))
	for addr := range dump {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	for _, addr := range addrs {
		as, err := database.DecodeAccountState(dump[addr])
		if err != nil {
			return fmt.Errorf("account %s: %w", addr, err)
		}
		printAccount(w, addr, as)
	}

	return nil
}

func printAccount(w io.Writer, addr common.Address, as *database.AccountState) {
	fmt.Fprintf(w, "Account: %s  Balance: %s  Power: %s  Height: %d\n", addr, as.Balance(), as.ForgePower(), as.StateHeight())
}
