package chain

import (
	"github.com/btcsuite/btcd/wire"
)

// Network selects the reference settlement network.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkRegtest Network = "regtest"
)

// Utxo is one unit of deposited value observed on the reference network.
// Immutable once observed; only its processing disposition changes.
type Utxo struct {
	OutPoint wire.OutPoint
	Value    uint64
	Height   uint32
}

// PendingUtxo reports a deposit that does not yet meet the confirmation
// threshold. Derived per call, never persisted.
type PendingUtxo struct {
	OutPoint      wire.OutPoint `json:"outpoint"`
	Value         uint64        `json:"value"`
	Confirmations uint32        `json:"confirmations"`
}

// GetUtxosRequest asks the oracle for the UTXO set of one address. Exactly
// one of MinConfirmations or Page is honored: a non-nil Page continues a
// previous response.
type GetUtxosRequest struct {
	Network          Network
	Address          string
	MinConfirmations uint32
	Page             []byte
}

// GetUtxosResponse is one page of the oracle's view of an address.
type GetUtxosResponse struct {
	Utxos     []Utxo
	TipHeight uint32
	NextPage  []byte
}
