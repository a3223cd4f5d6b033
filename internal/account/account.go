package account

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Subaccount is a 32-byte extension of an owner identity. Ledger services
// treat the all-zero subaccount as the owner's default account.
type Subaccount [32]byte

// DefaultSubaccount is the reserved default (minting) subaccount on the
// ledger services. Derived subaccounts must never collide with it.
var DefaultSubaccount Subaccount

// Role nonces for subaccount derivation. The same (nonce, ssi) pair always
// resolves to the same subaccount, so each role has a fixed slot per owner.
const (
	NonceSwap    uint64 = 0 // swap credit / burn
	NonceBox     uint64 = 1 // locked collateral (safety box)
	NonceBalance uint64 = 2 // spendable stablecoin balance
	NonceReserve uint64 = 3 // protocol reserve
)

const derivationDomain = "boxmint"

// DeriveSubaccount deterministically derives a subaccount from the minter
// identity, a role nonce, and a self-sovereign identity string. The digest
// is domain-separated by a length-prefixed tag so it can never collide with
// other uses of the same hash over the same owner bytes.
func DeriveSubaccount(owner string, nonce uint64, ssi string) Subaccount {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)

	h := sha256.New()
	h.Write([]byte{byte(len(derivationDomain))})
	h.Write([]byte(derivationDomain))
	h.Write([]byte(owner))
	h.Write(nonceBytes[:])
	h.Write([]byte(ssi))

	var sub Subaccount
	copy(sub[:], h.Sum(nil))
	return sub
}

// CheckDerivation verifies at bootstrap that the derivation scheme cannot
// produce the ledger's reserved default subaccount for the burn slot. A
// collision is a fatal configuration error, never silently substituted.
func CheckDerivation(owner string) error {
	if DeriveSubaccount(owner, NonceSwap, "") == DefaultSubaccount {
		return fmt.Errorf("subaccount collision with the default subaccount for owner %s", owner)
	}
	return nil
}

// Account identifies a balance slot on an external ledger service.
type Account struct {
	Owner      string
	Subaccount *Subaccount
}

// Derived returns the account for (owner, nonce, ssi) under the fixed
// derivation scheme.
func Derived(owner string, nonce uint64, ssi string) Account {
	sub := DeriveSubaccount(owner, nonce, ssi)
	return Account{Owner: owner, Subaccount: &sub}
}

// Key returns a stable string form used as the guard key and the store
// partition for the account.
func (a Account) Key() string {
	if a.Subaccount == nil {
		return a.Owner
	}
	return a.Owner + ":" + hex.EncodeToString(a.Subaccount[:])
}

func (a Account) String() string {
	return a.Key()
}
