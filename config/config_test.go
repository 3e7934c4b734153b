package config

import (
	"bytes"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"loyalchain/crypto"
)

func testAccount(fill byte) string {
	return crypto.MustNewAddress(crypto.PointPrefix, bytes.Repeat([]byte{fill}, 20)).String()
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paymentd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	body := `
ListenAddress = ":9000"
HoldingAccount = "` + testAccount(0x01) + `"
SystemAccount = "` + testAccount(0x02) + `"
FeeCollectionAccount = "` + testAccount(0x03) + `"

[Rates]
TokenPerPoint = "0.5"
[Rates.PointPerUnit]
USD = "1"
KRW = "0.001"
`
	cfg, err := Load(writeTestConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.FeeBps != 100 {
		t.Fatalf("FeeBps default = %d, want 100", cfg.FeeBps)
	}
	if cfg.ChainID != 2332 {
		t.Fatalf("ChainID default = %d, want 2332", cfg.ChainID)
	}

	holding, err := cfg.HoldingAddress()
	if err != nil {
		t.Fatalf("holding address: %v", err)
	}
	var wantHolding [20]byte
	copy(wantHolding[:], bytes.Repeat([]byte{0x01}, 20))
	if holding != wantHolding {
		t.Fatalf("holding address mismatch")
	}

	rate, err := cfg.TokenRate()
	if err != nil {
		t.Fatalf("token rate: %v", err)
	}
	if rate.Cmp(big.NewRat(1, 2)) != 0 {
		t.Fatalf("token rate = %s, want 1/2", rate)
	}
	rates, err := cfg.PointRates()
	if err != nil {
		t.Fatalf("point rates: %v", err)
	}
	if rates["KRW"].Cmp(big.NewRat(1, 1000)) != 0 {
		t.Fatalf("KRW rate = %s, want 1/1000", rates["KRW"])
	}
}

func TestLoadRejectsMissingAccounts(t *testing.T) {
	body := `
HoldingAccount = "` + testAccount(0x01) + `"
SystemAccount = "` + testAccount(0x02) + `"
`
	if _, err := Load(writeTestConfig(t, body)); err == nil {
		t.Fatalf("missing FeeCollectionAccount must fail validation")
	}
}

func TestLoadRejectsBadRate(t *testing.T) {
	body := `
HoldingAccount = "` + testAccount(0x01) + `"
SystemAccount = "` + testAccount(0x02) + `"
FeeCollectionAccount = "` + testAccount(0x03) + `"

[Rates]
TokenPerPoint = "zero"
`
	if _, err := Load(writeTestConfig(t, body)); err == nil {
		t.Fatalf("invalid TokenPerPoint must fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("missing file must error")
	}
}
