package ledger

import (
	"crypto/ed25519"
	"encoding/base32"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
)

const (
	TypeAssetConfig   = "acfg"
	TypeAssetTransfer = "axfer"
)

// signingPrefix separates transaction signatures from any other use of the
// platform key.
var signingPrefix = []byte("TX")

var txIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ledger: CBOR decoder initialization failed: " + err.Error())
	}
}

type AssetParams struct {
	Total         uint64         `cbor:"t"`
	Decimals      uint32         `cbor:"dc"`
	DefaultFrozen bool           `cbor:"df"`
	UnitName      string         `cbor:"un"`
	AssetName     string         `cbor:"an"`
	URL           string         `cbor:"au,omitempty"`
	Manager       domain.Address `cbor:"m"`
	Reserve       domain.Address `cbor:"r"`
	Freeze        domain.Address `cbor:"f"`
	Clawback      domain.Address `cbor:"c"`
}

// Transaction is the wire form of an asset creation or transfer. Encoding is
// CBOR core deterministic so the signed bytes are reproducible.
type Transaction struct {
	Type        string         `cbor:"type"`
	Sender      domain.Address `cbor:"snd"`
	Fee         uint64         `cbor:"fee"`
	FirstValid  uint64         `cbor:"fv"`
	LastValid   uint64         `cbor:"lv"`
	GenesisID   string         `cbor:"gen"`
	GenesisHash []byte         `cbor:"gh"`
	Note        []byte         `cbor:"note,omitempty"`

	AssetParams *AssetParams `cbor:"apar,omitempty"`

	XferAsset     uint64         `cbor:"xaid,omitempty"`
	AssetAmount   uint64         `cbor:"aamt,omitempty"`
	AssetReceiver domain.Address `cbor:"arcv,omitempty"`
}

type SignedTransaction struct {
	Txn Transaction `cbor:"txn"`
	Sig []byte      `cbor:"sig"`
}

// IsOptIn reports whether tx is a zero-amount transfer to the sender itself.
func (tx *Transaction) IsOptIn() bool {
	return tx.Type == TypeAssetTransfer && tx.AssetAmount == 0 && tx.AssetReceiver == tx.Sender
}

// SigningBytes returns the prefixed encoding covered by the signature.
func (tx *Transaction) SigningBytes() ([]byte, error) {
	body, err := encMode.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return append(append([]byte{}, signingPrefix...), body...), nil
}

// ID derives the transaction id from its signing bytes.
func (tx *Transaction) ID() (domain.TxID, error) {
	msg, err := tx.SigningBytes()
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(msg)
	return domain.TxID(txIDEncoding.EncodeToString(sum[:])), nil
}

func EncodeTransaction(tx Transaction) ([]byte, error) {
	return encMode.Marshal(tx)
}

func EncodeSigned(stx SignedTransaction) ([]byte, error) {
	return encMode.Marshal(stx)
}

func DecodeSigned(raw []byte) (SignedTransaction, error) {
	var stx SignedTransaction
	if err := decMode.Unmarshal(raw, &stx); err != nil {
		return stx, fmt.Errorf("decode signed transaction: %w", err)
	}
	return stx, nil
}

// Verify checks the signature against the sender's public key.
func (stx *SignedTransaction) Verify() error {
	pub, err := stx.Txn.Sender.PublicKey()
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	msg, err := stx.Txn.SigningBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, stx.Sig) {
		return errors.New("signature does not match sender")
	}
	return nil
}

// signer is the subset of port.Signer needed to seal a transaction.
type signer interface {
	Available() bool
	Address() domain.Address
	Sign(payload []byte) (domain.SignedPayload, error)
}

func signTransaction(s signer, tx Transaction) (SignedTransaction, domain.TxID, error) {
	msg, err := tx.SigningBytes()
	if err != nil {
		return SignedTransaction{}, "", err
	}
	signed, err := s.Sign(msg)
	if err != nil {
		return SignedTransaction{}, "", err
	}
	id, err := tx.ID()
	if err != nil {
		return SignedTransaction{}, "", err
	}
	return SignedTransaction{Txn: tx, Sig: signed.Signature}, id, nil
}

func assetConfigTx(params domain.SuggestedParams, creator domain.Address, spec domain.AssetSpec, note []byte) Transaction {
	tx := baseTx(TypeAssetConfig, params, creator, note)
	tx.AssetParams = &AssetParams{
		Total:     spec.Total,
		Decimals:  spec.Decimals,
		UnitName:  spec.UnitName,
		AssetName: spec.Name,
		URL:       spec.URL,
		Manager:   creator,
		Reserve:   creator,
		Freeze:    creator,
		Clawback:  creator,
	}
	return tx
}

func assetTransferTx(params domain.SuggestedParams, assetID domain.AssetID, from, to domain.Address, amount uint64, note []byte) Transaction {
	tx := baseTx(TypeAssetTransfer, params, from, note)
	tx.XferAsset = uint64(assetID)
	tx.AssetAmount = amount
	tx.AssetReceiver = to
	return tx
}

func baseTx(typ string, params domain.SuggestedParams, sender domain.Address, note []byte) Transaction {
	fee := params.Fee
	if fee < params.MinFee {
		fee = params.MinFee
	}
	return Transaction{
		Type:        typ,
		Sender:      sender,
		Fee:         fee,
		FirstValid:  uint64(params.FirstValid),
		LastValid:   uint64(params.LastValid),
		GenesisID:   params.GenesisID,
		GenesisHash: params.GenesisHash,
		Note:        note,
	}
}
