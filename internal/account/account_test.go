package account_test

import (
	"testing"

	"boxmint/internal/account"
)

func TestDeriveSubaccount_Deterministic(t *testing.T) {
	a := account.DeriveSubaccount("minter-1", 1, "bc1q0example")
	b := account.DeriveSubaccount("minter-1", 1, "bc1q0example")
	if a != b {
		t.Errorf("same inputs produced different subaccounts: %x vs %x", a, b)
	}
}

func TestDeriveSubaccount_InputSensitivity(t *testing.T) {
	base := account.DeriveSubaccount("minter-1", 1, "bc1q0example")

	cases := []struct {
		name  string
		owner string
		nonce uint64
		ssi   string
	}{
		{"different owner", "minter-2", 1, "bc1q0example"},
		{"different nonce", "minter-1", 2, "bc1q0example"},
		{"different ssi", "minter-1", 1, "bc1q0other"},
	}
	for _, tc := range cases {
		got := account.DeriveSubaccount(tc.owner, tc.nonce, tc.ssi)
		if got == base {
			t.Errorf("%s: expected a different subaccount, got identical digest", tc.name)
		}
	}
}

func TestDeriveSubaccount_NonceBoundaryNotAmbiguous(t *testing.T) {
	// The nonce is fixed-width big-endian, so moving bytes between the nonce
	// and the discriminator must change the digest.
	a := account.DeriveSubaccount("m", 0x01, "a")
	b := account.DeriveSubaccount("m", 0x0161, "")
	if a == b {
		t.Error("nonce/discriminator boundary is ambiguous")
	}
}

func TestCheckDerivation(t *testing.T) {
	if err := account.CheckDerivation("minter-1"); err != nil {
		t.Errorf("unexpected derivation collision: %v", err)
	}
}

func TestAccountKey(t *testing.T) {
	acct := account.Derived("minter-1", account.NonceBox, "bc1q0example")
	other := account.Derived("minter-1", account.NonceBalance, "bc1q0example")
	if acct.Key() == other.Key() {
		t.Error("box and balance accounts must have distinct keys")
	}

	bare := account.Account{Owner: "minter-1"}
	if bare.Key() != "minter-1" {
		t.Errorf("got %q, want %q", bare.Key(), "minter-1")
	}
}
