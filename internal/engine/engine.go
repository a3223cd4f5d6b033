package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"boxmint/internal/account"
	"boxmint/internal/chain"
	"boxmint/internal/collateral"
	"boxmint/internal/guard"
	"boxmint/internal/identity"
	"boxmint/internal/indexer"
	"boxmint/internal/ledger"
	"boxmint/internal/observability"
	"boxmint/internal/persistence"
	"boxmint/internal/rate"
	"boxmint/internal/scheduler"
	"boxmint/internal/signer"
)

// inscriptionCeiling marks the value range of inscription-shaped outputs.
// Outputs below it (546 is the canonical inscription value) carry ordinal
// payloads and must never be treated as collateral.
const inscriptionCeiling = 600

// UtxoOutcome classifies one UTXO's disposition within a balance update.
type UtxoOutcome string

const (
	OutcomeMinted              UtxoOutcome = "minted"
	OutcomeValueTooSmall       UtxoOutcome = "value_too_small"
	OutcomeTransferInscription UtxoOutcome = "transfer_inscription"
	OutcomeChecked             UtxoOutcome = "checked"
)

// UtxoStatus reports one UTXO's disposition to the caller. Ignored and
// checked deposits are reported rather than silently dropped.
type UtxoStatus struct {
	Outcome      UtxoOutcome `json:"outcome"`
	Utxo         chain.Utxo  `json:"utxo"`
	MintedAmount uint64      `json:"minted_amount,omitempty"`
	Receipts     []uint64    `json:"receipts,omitempty"`
}

// AssetSplit partitions scanned deposits into plain outputs and outputs
// carrying an alternate asset, with the indexed asset amount replacing the
// satoshi value on the asset side.
type AssetSplit struct {
	Plain []chain.Utxo `json:"plain"`
	Asset []chain.Utxo `json:"asset"`
}

// Config carries the engine's static policy.
type Config struct {
	// Owner is the minter's own identity on the external ledgers; all
	// derived subaccounts hang off it.
	Owner string
	// Network selects the Bitcoin network the oracle watches.
	Network chain.Network
	// MinConfirmations is the confirmation threshold for mintable deposits.
	MinConfirmations uint32
	// DustFloor is the largest satoshi value still considered dust.
	DustFloor uint64
	// Quote is the fiat symbol loans are priced in.
	Quote string
	// AssetProvider is the indexer provider id for alternate-asset lookups.
	AssetProvider string
	// AssetDiscriminator derives the alternate-asset minter account.
	AssetDiscriminator string
}

// Deps are the engine's collaborators.
type Deps struct {
	Oracle       chain.UtxoOracle
	Store        persistence.UtxoStore
	Guard        *guard.Guard
	Calculator   *collateral.Calculator
	Orchestrator *ledger.Orchestrator
	Rates        rate.Oracle
	Identities   identity.Resolver
	Addresses    signer.AddressResolver
	Indexers     *indexer.Client
	Tasks        scheduler.Scheduler
	Metrics      *observability.Metrics
	Log          zerolog.Logger
}

// Engine composes the deposit pipeline: guard, oracle scan, dedup,
// collateral computation and mint orchestration.
type Engine struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
}

func New(cfg Config, deps Deps) *Engine {
	return &Engine{cfg: cfg, deps: deps, log: deps.Log}
}

// Operation labels on the update metrics.
const (
	opUpdateBalance = "update_balance"
	opRedeem        = "redeem"
	opTransfer      = "transfer"
	opScanAssets    = "scan_assets"
)

// admit counts the attempt and acquires the account's guard slot. The
// returned token must be released through release so the in-flight gauge
// tracks both edges.
func (e *Engine) admit(op, key string) (*guard.Token, error) {
	e.deps.Metrics.UpdatesStarted.WithLabelValues(op).Inc()
	tok, err := e.deps.Guard.Acquire(key)
	if err != nil {
		e.deps.Metrics.GuardRejections.WithLabelValues(guardReason(err)).Inc()
		return nil, fromGuardErr(err)
	}
	e.deps.Metrics.GuardInFlight.Set(float64(e.deps.Guard.InFlight()))
	return tok, nil
}

func (e *Engine) release(tok *guard.Token) {
	tok.Release()
	e.deps.Metrics.GuardInFlight.Set(float64(e.deps.Guard.InFlight()))
}

// finish records the operation's terminal outcome and duration.
func (e *Engine) finish(op string, start time.Time, err error) {
	outcome := "ok"
	var noNew *NoNewUtxosError
	switch {
	case errors.As(err, &noNew):
		outcome = "no_new_utxos"
	case err != nil:
		outcome = "error"
	}
	e.deps.Metrics.UpdatesCompleted.WithLabelValues(op, outcome).Inc()
	e.deps.Metrics.UpdateDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// UpdateBalance scans the deposit address derived for ssi and settles every
// newly confirmed deposit: dust and inscription-shaped outputs are
// permanently excluded, everything else is minted against. The returned
// statuses cover each UTXO looked at, including on the error paths.
//
// At most one update per account runs at a time; a second caller gets
// AlreadyProcessingError instead of queueing.
func (e *Engine) UpdateBalance(ctx context.Context, ssi string) (statuses []UtxoStatus, err error) {
	start := time.Now()
	defer func() { e.finish(opUpdateBalance, start, err) }()

	boxAcct := account.Derived(e.cfg.Owner, account.NonceBox, ssi)
	key := boxAcct.Key()

	tok, err := e.admit(opUpdateBalance, key)
	if err != nil {
		return nil, err
	}
	defer e.release(tok)

	// Stale finalized entries go first so one old stuck transfer cannot
	// block this account forever.
	if err := e.store().FinalizeClear(ctx, key); err != nil {
		return nil, &SystemError{Method: "store.FinalizeClear", Reason: err.Error()}
	}

	addr, err := e.deps.Addresses.DepositAddress(ctx, boxAcct, ssi)
	if err != nil {
		return nil, fromCallErr("signer.DepositAddress", err)
	}

	resp, err := chain.FetchAllUtxos(ctx, e.deps.Oracle, e.cfg.Network, addr, e.cfg.MinConfirmations)
	if err != nil {
		return nil, fromCallErr("oracle.GetUtxos", err)
	}

	newUtxos, err := e.store().NewUtxosForAccount(ctx, resp.Utxos, key)
	if err != nil {
		return nil, &SystemError{Method: "store.NewUtxosForAccount", Reason: err.Error()}
	}
	if len(newUtxos) == 0 {
		return nil, e.pendingReport(ctx, addr, key)
	}
	e.deps.Metrics.UtxosObserved.Add(float64(len(newUtxos)))

	statuses = make([]UtxoStatus, 0, len(newUtxos))
	for _, u := range newUtxos {
		if u.Value <= e.cfg.DustFloor {
			if err := e.store().Ignore(ctx, u, key, persistence.IgnoreDust); err != nil {
				return statuses, &SystemError{Method: "store.Ignore", Reason: err.Error()}
			}
			e.deps.Metrics.UtxosIgnored.WithLabelValues(string(persistence.IgnoreDust)).Inc()
			statuses = append(statuses, UtxoStatus{Outcome: OutcomeValueTooSmall, Utxo: u})
			continue
		}
		if u.Value < inscriptionCeiling {
			if err := e.store().Ignore(ctx, u, key, persistence.IgnoreInscription); err != nil {
				return statuses, &SystemError{Method: "store.Ignore", Reason: err.Error()}
			}
			e.deps.Metrics.UtxosIgnored.WithLabelValues(string(persistence.IgnoreInscription)).Inc()
			statuses = append(statuses, UtxoStatus{Outcome: OutcomeTransferInscription, Utxo: u})
			continue
		}

		snap, err := e.deps.Calculator.TakeSnapshot(ctx, e.cfg.Owner, ssi)
		if err != nil {
			statuses = append(statuses, UtxoStatus{Outcome: OutcomeChecked, Utxo: u})
			return statuses, fromRateErr(err)
		}
		e.deps.Metrics.RateFetched.Set(float64(snap.Rate.Rate))

		loan, err := collateral.LoanFor(u.Value, snap)
		if err != nil {
			statuses = append(statuses, UtxoStatus{Outcome: OutcomeChecked, Utxo: u})
			return statuses, fromTransferErr("collateral.LoanFor", err)
		}

		res, err := e.deps.Orchestrator.Deposit(ctx, ssi, u.Value, loan)
		if err != nil {
			// A settled collateral leg is authoritative even when a
			// later leg failed: claim the UTXO so it is never minted
			// against again, and stop the batch.
			if len(res.Receipts) > 0 {
				if cerr := e.store().RecordClaim(ctx, u, key, res.Receipts[0], false); cerr != nil {
					e.log.Error().Err(cerr).Str("outpoint", u.OutPoint.String()).
						Msg("failed to claim utxo after partial deposit")
				}
				e.deps.Metrics.IncompleteLegs.Inc()
			}
			statuses = append(statuses, UtxoStatus{Outcome: OutcomeChecked, Utxo: u})
			return statuses, fromTransferErr("ledger.Deposit", err)
		}

		if err := e.store().RecordClaim(ctx, u, key, res.Receipts[0], false); err != nil {
			statuses = append(statuses, UtxoStatus{Outcome: OutcomeChecked, Utxo: u})
			return statuses, &SystemError{Method: "store.RecordClaim", Reason: err.Error()}
		}
		e.deps.Metrics.UtxosMinted.Inc()
		e.deps.Metrics.CollateralLocked.Add(float64(u.Value))
		e.deps.Metrics.MintedAmount.Add(float64(loan))
		e.log.Info().
			Str("ssi", ssi).
			Str("outpoint", u.OutPoint.String()).
			Uint64("satoshis", u.Value).
			Uint64("loan", loan).
			Uints64("receipts", res.Receipts).
			Msg("deposit minted")

		statuses = append(statuses, UtxoStatus{
			Outcome:      OutcomeMinted,
			Utxo:         u,
			MintedAmount: loan,
			Receipts:     res.Receipts,
		})
	}

	e.deps.Tasks.Schedule(ctx, scheduler.TaskProcessLogic, map[string]string{"ssi": ssi})
	return statuses, nil
}

// pendingReport re-queries at zero confirmations to tell the caller what is
// still confirming. Only outpoints with no recorded disposition count.
func (e *Engine) pendingReport(ctx context.Context, addr, key string) error {
	resp, err := chain.FetchAllUtxos(ctx, e.deps.Oracle, e.cfg.Network, addr, 0)
	if err != nil {
		return fromCallErr("oracle.GetUtxos", err)
	}
	unseen, err := e.store().NewUtxosForAccount(ctx, resp.Utxos, key)
	if err != nil {
		return &SystemError{Method: "store.NewUtxosForAccount", Reason: err.Error()}
	}

	out := &NoNewUtxosError{RequiredConfirmations: e.cfg.MinConfirmations}
	for _, u := range unseen {
		// Keep only deposits that have not yet reached the threshold.
		if u.Height != 0 && resp.TipHeight >= u.Height+e.cfg.MinConfirmations-1 {
			continue
		}
		var confs uint32
		if u.Height != 0 && resp.TipHeight >= u.Height {
			confs = resp.TipHeight - u.Height + 1
		}
		out.PendingUtxos = append(out.PendingUtxos, chain.PendingUtxo{
			OutPoint:      u.OutPoint,
			Value:         u.Value,
			Confirmations: confs,
		})
		if out.CurrentConfirmations == nil || confs > *out.CurrentConfirmations {
			c := confs
			out.CurrentConfirmations = &c
		}
	}
	return out
}

// Redeem unwinds the box derived for ssi: the locked collateral moves to
// dest and any outstanding loan is repaid from the spendable balance.
func (e *Engine) Redeem(ctx context.Context, ssi string, dest account.Account) (err error) {
	start := time.Now()
	defer func() { e.finish(opRedeem, start, err) }()

	key := account.Derived(e.cfg.Owner, account.NonceBox, ssi).Key()

	tok, err := e.admit(opRedeem, key)
	if err != nil {
		return err
	}
	defer e.release(tok)

	snap, err := e.deps.Calculator.TakeSnapshot(ctx, e.cfg.Owner, ssi)
	if err != nil {
		return fromRateErr(err)
	}
	if snap.Collateral == 0 {
		return &GenericError{Code: CodeNothingToRedeem, Message: "no locked collateral to redeem"}
	}

	if _, err := e.deps.Orchestrator.Redeem(ctx, ssi, dest, snap.Collateral, snap.Debt); err != nil {
		return fromTransferErr("ledger.Redeem", err)
	}
	e.log.Info().
		Str("ssi", ssi).
		Uint64("collateral", snap.Collateral).
		Uint64("loan", snap.Debt).
		Msg("box redeemed")

	e.deps.Tasks.Schedule(ctx, scheduler.TaskProcessLogic, map[string]string{"ssi": ssi})
	return nil
}

// Transfer moves stablecoin between two identities, optionally swapping part
// of the amount into satoshis at the live rate. The caller must be the
// identity linked to the sending ssi.
func (e *Engine) Transfer(ctx context.Context, caller, senderSSI, receiverSSI string, amount, swapMinSats uint64) (receipts []uint64, err error) {
	start := time.Now()
	defer func() { e.finish(opTransfer, start, err) }()

	key := account.Derived(e.cfg.Owner, account.NonceBox, senderSSI).Key()

	tok, err := e.admit(opTransfer, key)
	if err != nil {
		return nil, err
	}
	defer e.release(tok)

	linked, err := e.deps.Identities.Resolve(ctx, senderSSI)
	if err != nil {
		return nil, fromCallErr("identity.Resolve", err)
	}
	if linked != caller {
		return nil, &GenericError{
			Code:    CodeIdentityMismatch,
			Message: fmt.Sprintf("ssi %s is not linked to the caller", senderSSI),
		}
	}

	var swap *ledger.SwapLeg
	if swapMinSats > 0 {
		r, err := e.deps.Rates.BTCRate(ctx, e.cfg.Quote)
		if err != nil {
			return nil, fromRateErr(err)
		}
		swap = &ledger.SwapLeg{MinSats: swapMinSats, Rate: r}
	}

	res, err := e.deps.Orchestrator.Transfer(ctx, senderSSI, receiverSSI, amount, swap)
	if err != nil {
		return res.Receipts, fromTransferErr("ledger.Transfer", err)
	}
	return res.Receipts, nil
}

// ScanAssets runs the alternate-asset deposit path: a guarded scan of the
// asset-minter account through the same dedup store, then a per-UTXO indexer
// lookup splitting plain outputs from asset-carrying ones.
func (e *Engine) ScanAssets(ctx context.Context) (split AssetSplit, err error) {
	start := time.Now()
	defer func() { e.finish(opScanAssets, start, err) }()

	assetAcct := account.Derived(e.cfg.Owner, account.NonceBox, e.cfg.AssetDiscriminator)
	key := assetAcct.Key()

	tok, err := e.admit(opScanAssets, key)
	if err != nil {
		return AssetSplit{}, err
	}
	defer e.release(tok)

	if err := e.store().FinalizeClear(ctx, key); err != nil {
		return AssetSplit{}, &SystemError{Method: "store.FinalizeClear", Reason: err.Error()}
	}

	addr, err := e.deps.Addresses.DepositAddress(ctx, assetAcct, e.cfg.AssetDiscriminator)
	if err != nil {
		return AssetSplit{}, fromCallErr("signer.DepositAddress", err)
	}

	resp, err := chain.FetchAllUtxos(ctx, e.deps.Oracle, e.cfg.Network, addr, e.cfg.MinConfirmations)
	if err != nil {
		return AssetSplit{}, fromCallErr("oracle.GetUtxos", err)
	}
	unseen, err := e.store().NewUtxosForAccount(ctx, resp.Utxos, key)
	if err != nil {
		return AssetSplit{}, &SystemError{Method: "store.NewUtxosForAccount", Reason: err.Error()}
	}
	if len(unseen) == 0 {
		return AssetSplit{}, e.pendingReport(ctx, addr, key)
	}

	return e.CheckAssetUtxos(ctx, unseen)
}

// CheckAssetUtxos asks the configured indexer provider what each output
// carries. Outputs with no asset amount stay plain with their satoshi value;
// asset-carrying outputs have the indexed amount substituted for the value.
func (e *Engine) CheckAssetUtxos(ctx context.Context, utxos []chain.Utxo) (AssetSplit, error) {
	var split AssetSplit
	for _, u := range utxos {
		amount, err := e.deps.Indexers.AssetAmount(ctx, e.cfg.AssetProvider, u)
		if err != nil {
			return split, fromCallErr("indexer.AssetAmount", err)
		}
		if amount == 0 {
			split.Plain = append(split.Plain, u)
			continue
		}
		carried := u
		carried.Value = amount
		split.Asset = append(split.Asset, carried)
	}
	return split, nil
}

func (e *Engine) store() persistence.UtxoStore {
	return e.deps.Store
}

func guardReason(err error) string {
	if err == guard.ErrTooManyConcurrent {
		return "capacity"
	}
	return "already_processing"
}
