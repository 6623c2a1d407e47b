package ledger

// JSON bodies of the node REST API shared by Gateway and the Devnet handler.

const (
	tokenHeader    = "X-Ledger-API-Token"
	cborMediaType  = "application/cbor"
	validityWindow = 1000

	// substring the node uses when a receiver has not opted in
	optInMessage = "must optin"
)

type paramsResponse struct {
	Fee         uint64 `json:"fee"`
	MinFee      uint64 `json:"min-fee"`
	LastRound   uint64 `json:"last-round"`
	GenesisID   string `json:"genesis-id"`
	GenesisHash []byte `json:"genesis-hash"`
}

type submitResponse struct {
	TxID string `json:"txId"`
}

type pendingResponse struct {
	ConfirmedRound uint64 `json:"confirmed-round"`
	AssetIndex     uint64 `json:"asset-index,omitempty"`
	PoolError      string `json:"pool-error"`
}

type accountResponse struct {
	Address string         `json:"address"`
	Assets  []assetHolding `json:"assets"`
}

type assetHolding struct {
	AssetID uint64 `json:"asset-id"`
	Amount  uint64 `json:"amount"`
}

type errorResponse struct {
	Message string `json:"message"`
}
