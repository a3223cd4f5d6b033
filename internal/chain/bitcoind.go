package chain

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/rs/zerolog"

	"boxmint/internal/observability"
)

// BitcoindOracle implements UtxoOracle against a bitcoind node watching the
// minter's deposit addresses. bitcoind returns the full set in one response,
// so NextPage is always nil.
type BitcoindOracle struct {
	client  *rpcclient.Client
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewBitcoindOracle(cfg *rpcclient.ConnConfig, metrics *observability.Metrics, log zerolog.Logger) (*BitcoindOracle, error) {
	// HTTP POST mode: plain request/response, no notification socket needed.
	cfg.HTTPPostMode = true
	client, err := rpcclient.New(cfg, nil)
	if err != nil {
		return nil, NewCallError("rpcclient.New", ReasonOther, err.Error())
	}
	return &BitcoindOracle{client: client, metrics: metrics, log: log}, nil
}

// Params maps a Network to its chain parameters.
func Params(network Network) *chaincfg.Params {
	switch network {
	case NetworkMainnet:
		return &chaincfg.MainNetParams
	case NetworkTestnet:
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.RegressionNetParams
	}
}

func (o *BitcoindOracle) GetUtxos(ctx context.Context, req GetUtxosRequest) (resp GetUtxosResponse, err error) {
	start := time.Now()
	defer func() { o.observe(start, err) }()

	if err := ctx.Err(); err != nil {
		return GetUtxosResponse{}, NewCallError("bitcoin_get_utxos", ReasonOther, err.Error())
	}

	addr, err := btcutil.DecodeAddress(req.Address, Params(req.Network))
	if err != nil {
		return GetUtxosResponse{}, NewCallError("bitcoin_get_utxos", ReasonRejected, "invalid address: "+err.Error())
	}

	tip, err := o.client.GetBlockCount()
	if err != nil {
		return GetUtxosResponse{}, NewCallError("getblockcount", ReasonServiceError, err.Error())
	}

	const maxConfirmations = 9999999
	unspent, err := o.client.ListUnspentMinMaxAddresses(int(req.MinConfirmations), maxConfirmations, []btcutil.Address{addr})
	if err != nil {
		return GetUtxosResponse{}, NewCallError("listunspent", ReasonServiceError, err.Error())
	}

	resp = GetUtxosResponse{TipHeight: uint32(tip)}
	for _, u := range unspent {
		txid, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			o.log.Warn().Str("txid", u.TxID).Err(err).Msg("skipping unspent output with malformed txid")
			continue
		}
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil || amount < 0 {
			o.log.Warn().Str("txid", u.TxID).Float64("amount", u.Amount).Msg("skipping unspent output with malformed amount")
			continue
		}

		utxo := Utxo{Value: uint64(amount)}
		utxo.OutPoint.Hash = *txid
		utxo.OutPoint.Index = u.Vout
		if u.Confirmations > 0 {
			utxo.Height = uint32(tip - u.Confirmations + 1)
		}
		resp.Utxos = append(resp.Utxos, utxo)
	}

	return resp, nil
}

func (o *BitcoindOracle) observe(start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.OracleCalls.WithLabelValues("bitcoind", status).Inc()
	o.metrics.OracleDuration.WithLabelValues("bitcoind").Observe(time.Since(start).Seconds())
}
