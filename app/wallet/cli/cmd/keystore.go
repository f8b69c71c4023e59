package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	password     string
	keystorePath string
)

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Move the wallet key in and out of an encrypted keystore",
}

var keystoreImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Encrypt the wallet key into the keystore",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := loadKey()
		if err != nil {
			log.Fatal(err)
		}

		ks := keystore.NewKeyStore(keystorePath, keystore.StandardScryptN, keystore.StandardScryptP)
		acc, err := ks.ImportECDSA(privateKey, password)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Printf("Account %s stored in %s\n", acc.Address.Hex(), acc.URL.Path)
	},
}

var keystoreExportCmd = &cobra.Command{
	Use:   "export <keyfile>",
	Short: "Decrypt a keystore file into the wallet key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatal(err)
		}

		key, err := keystore.DecryptKey(data, password)
		if err != nil {
			log.Fatal(err)
		}

		path := getPrivateKeyPath()
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("key %s already exists", path)
		}
		if err := os.MkdirAll(accountPath, 0700); err != nil {
			log.Fatal(err)
		}
		if err := crypto.SaveECDSA(path, key.PrivateKey); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("Account %s saved to %s\n", key.Address.Hex(), path)
	},
}

func init() {
	rootCmd.AddCommand(keystoreCmd)
	keystoreCmd.AddCommand(keystoreImportCmd, keystoreExportCmd)
	keystoreCmd.PersistentFlags().StringVar(&password, "password", "", "Password of the keystore file.")
	keystoreCmd.PersistentFlags().StringVar(&keystorePath, "keystore", "zblock/keystore", "Path to the keystore directory.")
}
