package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type IssuanceState string

const (
	StateUnissued             IssuanceState = "unissued"
	StateSubmitting           IssuanceState = "submitting"
	StateAwaitingConfirmation IssuanceState = "awaiting_confirmation"
	StateFallback             IssuanceState = "fallback"
	StateIssued               IssuanceState = "issued"
	StateIssuanceFailed       IssuanceState = "issuance_failed"
	StateReservationHeld      IssuanceState = "reservation_held"
	StateAwaitingTransfer     IssuanceState = "awaiting_transfer"
	StateSold                 IssuanceState = "sold"
)

// PurchaseStatus is the coarse status reported to buyers.
type PurchaseStatus string

const (
	PurchaseStatusIssued  PurchaseStatus = "Issued"
	PurchaseStatusSold    PurchaseStatus = "Sold"
	PurchaseStatusPending PurchaseStatus = "Pending"
)

// TicketAsset is one sellable unit bound to a single external asset.
type TicketAsset struct {
	TicketID      int64
	BatchKey      string
	EventName     string
	Capacity      uint64
	AssetID       *AssetID // nil until issuance confirms
	Authoritative bool     // false for fallback-issued assets
	UnitPrice     decimal.Decimal
	MetadataURL   string   // set on minted single-unit tickets
	CurrentHolder *Address // nil until sold
	State         IssuanceState

	PendingOperationID  string
	NeedsReconciliation bool
	ReconciliationNote  string

	Version   int // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PurchaseStatus folds the issuance state machine into Issued, Sold or Pending.
func (t *TicketAsset) PurchaseStatus() PurchaseStatus {
	switch t.State {
	case StateSold:
		return PurchaseStatusSold
	case StateReservationHeld, StateAwaitingTransfer:
		return PurchaseStatusPending
	default:
		return PurchaseStatusIssued
	}
}

func (t *TicketAsset) IsTransferable() bool {
	return t.State == StateIssued && t.AssetID != nil
}

func (t *TicketAsset) Clone() TicketAsset {
	c := *t
	if t.AssetID != nil {
		id := *t.AssetID
		c.AssetID = &id
	}
	if t.CurrentHolder != nil {
		h := *t.CurrentHolder
		c.CurrentHolder = &h
	}
	return c
}
