package domain

import "errors"

var (
	ErrSigningUnavailable  = errors.New("signing unavailable")
	ErrLedgerTimeout       = errors.New("ledger confirmation timeout")
	ErrOptInRequired       = errors.New("buyer has not opted in to asset")
	ErrAlreadySold         = errors.New("ticket already sold")
	ErrTransferInFlight    = errors.New("transfer already in flight")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrNotIssued           = errors.New("ticket asset not issued")
	ErrIssuanceFailed      = errors.New("asset issuance failed")
	ErrTransactionRejected = errors.New("transaction rejected by ledger")
	ErrInvalidBatch        = errors.New("invalid ticket batch")

	// ErrNotSubmitted marks a ledger call that failed before the
	// transaction could reach the network.
	ErrNotSubmitted = errors.New("transaction not submitted")
)

// Undelivered reports whether err proves the ledger never took the
// transaction. Any other submission error leaves the outcome unknown.
func Undelivered(err error) bool {
	return errors.Is(err, ErrOptInRequired) ||
		errors.Is(err, ErrTransactionRejected) ||
		errors.Is(err, ErrSigningUnavailable) ||
		errors.Is(err, ErrNotSubmitted)
}

// ErrorKind is the transport-facing name of an error class.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindSigningUnavailable ErrorKind = "SigningUnavailable"
	KindLedgerTimeout      ErrorKind = "LedgerTimeout"
	KindLedgerUnavailable  ErrorKind = "LedgerUnavailable"
	KindOptInRequired      ErrorKind = "OptInRequired"
	KindAlreadySold        ErrorKind = "AlreadySold"
	KindTransferInFlight   ErrorKind = "TransferInFlight"
	KindAssetNotFound      ErrorKind = "AssetNotFound"
	KindInvalidAddress     ErrorKind = "InvalidAddress"
	KindNotIssued          ErrorKind = "NotIssued"
	KindIssuanceFailed     ErrorKind = "IssuanceFailed"
	KindRejected           ErrorKind = "TransactionRejected"
	KindInvalidRequest     ErrorKind = "InvalidRequest"
	KindInternal           ErrorKind = "Internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrSigningUnavailable, KindSigningUnavailable},
	{ErrNotSubmitted, KindLedgerUnavailable},
	{ErrLedgerTimeout, KindLedgerTimeout},
	{ErrOptInRequired, KindOptInRequired},
	{ErrAlreadySold, KindAlreadySold},
	{ErrTransferInFlight, KindTransferInFlight},
	{ErrAssetNotFound, KindAssetNotFound},
	{ErrInvalidAddress, KindInvalidAddress},
	{ErrNotIssued, KindNotIssued},
	{ErrIssuanceFailed, KindIssuanceFailed},
	{ErrTransactionRejected, KindRejected},
	{ErrInvalidBatch, KindInvalidRequest},
}

// KindOf maps an error chain onto its ErrorKind. Unknown errors are Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
