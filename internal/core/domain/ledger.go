package domain

type (
	AssetID uint64
	TxID    string
	Round   uint64
)

// Holding is one asset slot of an account. A zero Amount still means the
// account has opted in to the asset.
type Holding struct {
	AssetID AssetID
	Amount  uint64
}

type SuggestedParams struct {
	Fee         uint64
	MinFee      uint64
	FirstValid  Round
	LastValid   Round
	GenesisID   string
	GenesisHash []byte
}

// AssetSpec describes a ticket asset to create on the ledger.
type AssetSpec struct {
	Name     string
	UnitName string
	Total    uint64
	Decimals uint32
	URL      string
}

// Confirmation is the outcome of polling a submitted transaction. Confirmed
// false means the poll budget ran out: the transaction may still land.
type Confirmation struct {
	TxID      TxID
	Confirmed bool
	Round     Round
	AssetID   AssetID // set when the transaction created an asset
}

type SignedPayload struct {
	Payload   []byte
	Signature []byte
	Signer    Address
}

func HoldsAsset(holdings []Holding, assetID AssetID) (Holding, bool) {
	for _, h := range holdings {
		if h.AssetID == assetID {
			return h, true
		}
	}
	return Holding{}, false
}
