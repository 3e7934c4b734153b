package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"loyalchain/cmd/internal/passphrase"
	"loyalchain/crypto"
	"loyalchain/native/payment"
)

// paymentctl is the relay-side companion to paymentd. It manages signing keys
// and produces the off-band authorizations the gateway verifies; it never
// talks to the ledger directly.

const passphraseEnv = "PAYMENTCTL_PASS"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "generate-key":
		err = generateKey(os.Args[2:])
	case "address":
		err = showAddress(os.Args[2:])
	case "secret-lock":
		err = secretLock(os.Args[2:])
	case "sign-open":
		err = signOpen(os.Args[2:])
	case "sign-cancel":
		err = signCancel(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: paymentctl <command> [flags]

Commands:
  generate-key <file>     generate a signing key and store it encrypted
  address <file>          print the bech32 address for a keystore file
  secret-lock <secret>    print the hash lock for a settlement secret
  sign-open [flags]       sign an open-payment authorization
  sign-cancel [flags]     sign an open-cancel authorization

The keystore passphrase is read from ` + passphraseEnv + ` or prompted.`)
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(passphraseEnv).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func generateKey(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: paymentctl generate-key <file>")
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	pass, err := passphrase.NewSource(passphraseEnv).Get()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(args[0], key, pass); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}
	fmt.Printf("address: %s\n", key.PubKey().Address())
	return nil
}

func showAddress(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: paymentctl address <file>")
	}
	key, err := loadKey(args[0])
	if err != nil {
		return err
	}
	addr := key.PubKey().Address()
	fmt.Printf("address: %s\nhex: %s\n", addr, hex.EncodeToString(addr.Bytes()))
	return nil
}

func secretLock(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: paymentctl secret-lock <secret>")
	}
	lock := payment.SecretHash([]byte(args[0]))
	fmt.Printf("secretLock: %s\nsecret (hex): %s\n", hex.EncodeToString(lock[:]), hex.EncodeToString([]byte(args[0])))
	return nil
}

func parseHash32(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid id: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("id must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func signOpen(args []string) error {
	fs := flag.NewFlagSet("sign-open", flag.ContinueOnError)
	keyFile := fs.String("key", "", "keystore file")
	chainID := fs.Int64("chain-id", 0, "environment identifier")
	paymentID := fs.String("payment", "", "payment id (32-byte hex)")
	purchaseID := fs.String("purchase", "", "purchase id")
	amount := fs.String("amount", "", "external-currency amount")
	currency := fs.String("currency", "", "currency code")
	shopID := fs.String("shop", "", "shop id (32-byte hex)")
	nonce := fs.Uint64("nonce", 0, "signer nonce from /v1/accounts/{account}/nonce")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyFile == "" || *paymentID == "" || *shopID == "" || *amount == "" {
		return fmt.Errorf("sign-open requires -key, -payment, -shop and -amount")
	}

	pid, err := parseHash32(*paymentID)
	if err != nil {
		return err
	}
	sid, err := parseHash32(*shopID)
	if err != nil {
		return err
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(*amount), 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", *amount)
	}

	key, err := loadKey(*keyFile)
	if err != nil {
		return err
	}
	var signer [20]byte
	copy(signer[:], key.PubKey().Address().Bytes())

	digest := payment.OpenPaymentHash(*chainID, pid, *purchaseID, value, *currency, sid, signer, *nonce)
	sig, err := key.Sign(digest)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	fmt.Printf("signer: %s\nsignature: %s\n", hex.EncodeToString(signer[:]), hex.EncodeToString(sig))
	return nil
}

func signCancel(args []string) error {
	fs := flag.NewFlagSet("sign-cancel", flag.ContinueOnError)
	keyFile := fs.String("key", "", "keystore file")
	chainID := fs.Int64("chain-id", 0, "environment identifier")
	paymentID := fs.String("payment", "", "payment id (32-byte hex)")
	purchaseID := fs.String("purchase", "", "purchase id")
	shopID := fs.String("shop", "", "shop id (32-byte hex)")
	nonce := fs.Uint64("nonce", 0, "signer nonce from /v1/accounts/{account}/nonce")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyFile == "" || *paymentID == "" || *shopID == "" {
		return fmt.Errorf("sign-cancel requires -key, -payment and -shop")
	}

	pid, err := parseHash32(*paymentID)
	if err != nil {
		return err
	}
	sid, err := parseHash32(*shopID)
	if err != nil {
		return err
	}

	key, err := loadKey(*keyFile)
	if err != nil {
		return err
	}
	var signer [20]byte
	copy(signer[:], key.PubKey().Address().Bytes())

	digest := payment.CancelPaymentHash(*chainID, pid, *purchaseID, sid, signer, *nonce)
	sig, err := key.Sign(digest)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	fmt.Printf("signer: %s\nsignature: %s\n", hex.EncodeToString(signer[:]), hex.EncodeToString(sig))
	return nil
}
