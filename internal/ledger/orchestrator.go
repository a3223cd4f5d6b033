package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"boxmint/internal/account"
	"boxmint/internal/persistence"
	"boxmint/internal/rate"
)

// Transfer minimums. Amounts below these are rejected before any leg runs.
const (
	// MinTransferAmount is the smallest stablecoin amount a transfer moves.
	MinTransferAmount = 20_000_000
	// MinSwapSats is the smallest satoshi amount a swap leg may request.
	MinSwapSats = 200
)

var (
	ErrBelowTransferMinimum = errors.New("transfer amount below minimum")
	ErrSwapBelowMinimumSats = errors.New("requested swap amount below minimum satoshis")
	ErrSwapRateShortfall    = errors.New("transfer amount does not cover requested swap at current rate")
)

// SwapLeg asks a transfer to also credit the sender with satoshis bought at
// the given rate.
type SwapLeg struct {
	// MinSats is the smallest satoshi credit the sender will accept.
	MinSats uint64
	// Rate prices the stablecoin amount into satoshis.
	Rate rate.Rate
}

// Result reports a finished or partially finished multi-leg operation.
// Receipts holds one entry per completed leg, in leg order.
type Result struct {
	IntentID uuid.UUID
	Receipts []uint64
}

// Orchestrator runs multi-leg ledger mutations. Legs are strictly
// sequential and a failed leg is never compensated: the mint intent
// recording the completed receipts is the operator's reconciliation input.
type Orchestrator struct {
	collateral TransferClient
	stable     TransferClient
	intents    persistence.IntentStore
	owner      string
	log        zerolog.Logger
}

func NewOrchestrator(collateral, stable TransferClient, intents persistence.IntentStore, owner string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		collateral: collateral,
		stable:     stable,
		intents:    intents,
		owner:      owner,
		log:        log,
	}
}

// Deposit settles a confirmed collateral deposit. Leg 1 credits the
// collateral to the box; when loan > 0, leg 2 records the loan as box debt
// and leg 3 credits the spendable balance.
func (o *Orchestrator) Deposit(ctx context.Context, ssi string, satoshis, loan uint64) (Result, error) {
	box := account.Derived(o.owner, account.NonceBox, ssi)
	balance := account.Derived(o.owner, account.NonceBalance, ssi)

	legs := []leg{{o.collateral, TransferArgs{To: box, Amount: satoshis, Memo: "collateral"}}}
	if loan > 0 {
		legs = append(legs,
			leg{o.stable, TransferArgs{To: box, Amount: loan, Memo: "loan debt"}},
			leg{o.stable, TransferArgs{To: balance, Amount: loan, Memo: "loan credit"}},
		)
	}

	return o.run(ctx, &persistence.MintIntent{
		ID:         uuid.New(),
		AccountKey: box.Key(),
		Kind:       "deposit",
		Satoshis:   satoshis,
		Loan:       loan,
	}, legs)
}

// Redeem releases collateral from the box to dest; when loan > 0 the repaid
// stablecoin moves from the spendable balance back to the minter.
func (o *Orchestrator) Redeem(ctx context.Context, ssi string, dest account.Account, collateral, loan uint64) (Result, error) {
	box := account.Derived(o.owner, account.NonceBox, ssi)
	balance := account.Derived(o.owner, account.NonceBalance, ssi)

	legs := []leg{{o.collateral, TransferArgs{
		FromSubaccount: box.Subaccount,
		To:             dest,
		Amount:         collateral,
		Memo:           "redeem collateral",
	}}}
	if loan > 0 {
		legs = append(legs, leg{o.stable, TransferArgs{
			FromSubaccount: balance.Subaccount,
			To:             account.Account{Owner: o.owner},
			Amount:         loan,
			Memo:           "repay loan",
		}})
	}

	return o.run(ctx, &persistence.MintIntent{
		ID:         uuid.New(),
		AccountKey: box.Key(),
		Kind:       "redeem",
		Satoshis:   collateral,
		Loan:       loan,
	}, legs)
}

// Transfer moves stablecoin from the sender's spendable balance to the
// receiver's. A swap leg, when present, first credits the sender's swap
// subaccount on the collateral ledger with the satoshi equivalent; both
// minimums are checked before any leg runs.
func (o *Orchestrator) Transfer(ctx context.Context, senderSSI, receiverSSI string, amount uint64, swap *SwapLeg) (Result, error) {
	if amount < MinTransferAmount {
		return Result{}, fmt.Errorf("%w: %d < %d", ErrBelowTransferMinimum, amount, MinTransferAmount)
	}

	var sats uint64
	if swap != nil {
		if swap.MinSats < MinSwapSats {
			return Result{}, fmt.Errorf("%w: %d < %d", ErrSwapBelowMinimumSats, swap.MinSats, MinSwapSats)
		}
		price := swap.Rate.Rate / rate.RateScale
		if price == 0 {
			return Result{}, fmt.Errorf("swap rate %d is below fixed-point scale", swap.Rate.Rate)
		}
		sats = amount / price
		if sats < swap.MinSats {
			return Result{}, fmt.Errorf("%w: %d sats < %d requested", ErrSwapRateShortfall, sats, swap.MinSats)
		}
	}

	from := account.Derived(o.owner, account.NonceBalance, senderSSI)
	to := account.Derived(o.owner, account.NonceBalance, receiverSSI)

	var legs []leg
	if swap != nil {
		swapCredit := account.Derived(o.owner, account.NonceSwap, senderSSI)
		legs = append(legs, leg{o.collateral, TransferArgs{
			To:     swapCredit,
			Amount: sats,
			Memo:   "swap credit",
		}})
	}
	legs = append(legs, leg{o.stable, TransferArgs{
		FromSubaccount: from.Subaccount,
		To:             to,
		Amount:         amount,
		Memo:           "transfer",
	}})

	return o.run(ctx, &persistence.MintIntent{
		ID:         uuid.New(),
		AccountKey: from.Key(),
		Kind:       "transfer",
		Satoshis:   sats,
		Loan:       amount,
	}, legs)
}

type leg struct {
	client TransferClient
	args   TransferArgs
}

func (o *Orchestrator) run(ctx context.Context, intent *persistence.MintIntent, legs []leg) (Result, error) {
	intent.LegsPlanned = len(legs)
	if err := o.intents.Create(ctx, intent); err != nil {
		return Result{}, fmt.Errorf("record %s intent: %w", intent.Kind, err)
	}

	res := Result{IntentID: intent.ID}
	for i, l := range legs {
		receipt, err := l.client.Transfer(ctx, l.args)
		if err != nil {
			o.log.Error().Err(err).
				Str("intent_id", intent.ID.String()).
				Str("kind", intent.Kind).
				Int("leg", i+1).
				Int("legs_planned", len(legs)).
				Uints64("receipts", res.Receipts).
				Msg("ledger leg failed, intent left incomplete")
			return res, fmt.Errorf("%s leg %d of %d: %w", intent.Kind, i+1, len(legs), err)
		}
		res.Receipts = append(res.Receipts, receipt)
		if err := o.intents.MarkLeg(ctx, intent.ID, receipt); err != nil {
			o.log.Error().Err(err).Str("intent_id", intent.ID.String()).Msg("failed to record completed leg")
		}
	}

	if err := o.intents.Complete(ctx, intent.ID); err != nil {
		o.log.Error().Err(err).Str("intent_id", intent.ID.String()).Msg("failed to mark intent complete")
	}
	return res, nil
}
