package chain

import (
	"context"
	"fmt"
)

// UtxoOracle supplies the trusted UTXO set and confirmation counts for
// derived deposit addresses.
type UtxoOracle interface {
	GetUtxos(ctx context.Context, req GetUtxosRequest) (GetUtxosResponse, error)
}

// Reason classifies why a collaborator call failed.
type Reason uint8

const (
	// ReasonQueueFull: the collaborator's request queue is full.
	ReasonQueueFull Reason = iota
	// ReasonOutOfBudget: the caller lacks the resource budget for the call.
	ReasonOutOfBudget
	// ReasonServiceError: the collaborator returned an application error.
	ReasonServiceError
	// ReasonRejected: the collaborator rejected the request outright.
	ReasonRejected
	// ReasonOther: transport or otherwise unclassified failure.
	ReasonOther
)

func (r Reason) String() string {
	switch r {
	case ReasonQueueFull:
		return "the collaborator queue is full"
	case ReasonOutOfBudget:
		return "insufficient resource budget"
	case ReasonServiceError:
		return "service error"
	case ReasonRejected:
		return "the collaborator rejected the call"
	default:
		return "call rejected"
	}
}

// CallError records a named collaborator call failure with enough context to
// diagnose which leg failed.
type CallError struct {
	Method string
	Reason Reason
	Detail string
}

func (e *CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call %q failed: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("call %q failed: %s: %s", e.Method, e.Reason, e.Detail)
}

// NewCallError wraps a collaborator failure at the point of the call.
func NewCallError(method string, reason Reason, detail string) *CallError {
	return &CallError{Method: method, Reason: reason, Detail: detail}
}

// FetchAllUtxos drains the oracle's pagination: it issues the initial
// request and keeps following NextPage until the oracle reports no more
// pages, concatenating the UTXOs in oracle order.
func FetchAllUtxos(ctx context.Context, oracle UtxoOracle, network Network, address string, minConfirmations uint32) (GetUtxosResponse, error) {
	resp, err := oracle.GetUtxos(ctx, GetUtxosRequest{
		Network:          network,
		Address:          address,
		MinConfirmations: minConfirmations,
	})
	if err != nil {
		return GetUtxosResponse{}, err
	}

	utxos := resp.Utxos
	for resp.NextPage != nil {
		resp, err = oracle.GetUtxos(ctx, GetUtxosRequest{
			Network: network,
			Address: address,
			Page:    resp.NextPage,
		})
		if err != nil {
			return GetUtxosResponse{}, err
		}
		utxos = append(utxos, resp.Utxos...)
	}

	resp.Utxos = utxos
	return resp, nil
}
