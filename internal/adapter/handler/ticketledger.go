package handler

import (
	"context"

	"google.golang.org/grpc"
)

const ticketLedgerServiceName = "ticketledger.v1.TicketLedger"

type CreateTicketBatchRequest struct {
	BatchKey  string `cbor:"batch_key"`
	EventName string `cbor:"event_name"`
	Capacity  uint64 `cbor:"capacity"`
	UnitPrice string `cbor:"unit_price"`
}

type MintTicketRequest struct {
	BatchKey    string `cbor:"batch_key"`
	EventName   string `cbor:"event_name"`
	MetadataURL string `cbor:"metadata_url"`
	UnitPrice   string `cbor:"unit_price"`
}

type CreateTicketBatchResponse struct {
	TicketID      int64  `cbor:"ticket_id"`
	BatchKey      string `cbor:"batch_key"`
	AssetID       uint64 `cbor:"asset_id,omitempty"`
	Authoritative bool   `cbor:"authoritative"`
	State         string `cbor:"issuance_state"`
	Error         string `cbor:"error,omitempty"`
	Message       string `cbor:"message,omitempty"`
}

type PurchaseTicketRequest struct {
	TicketID     int64  `cbor:"ticket_id"`
	BuyerAddress string `cbor:"buyer_address"`
}

type PurchaseTicketResponse struct {
	Success     bool   `cbor:"success"`
	Status      string `cbor:"status"`
	Holder      string `cbor:"holder,omitempty"`
	OperationID string `cbor:"operation_id,omitempty"`
	TxID        string `cbor:"tx_id,omitempty"`
	Error       string `cbor:"error,omitempty"`
	Message     string `cbor:"message,omitempty"`
}

type TicketStatusRequest struct {
	TicketID int64 `cbor:"ticket_id"`
}

type TicketStatusResponse struct {
	TicketID            int64  `cbor:"ticket_id"`
	EventName           string `cbor:"event_name"`
	AssetID             uint64 `cbor:"asset_id,omitempty"`
	Authoritative       bool   `cbor:"authoritative"`
	UnitPrice           string `cbor:"unit_price"`
	MetadataURL         string `cbor:"metadata_url,omitempty"`
	State               string `cbor:"issuance_state"`
	Status              string `cbor:"status"`
	CurrentHolder       string `cbor:"current_holder,omitempty"`
	NeedsReconciliation bool   `cbor:"needs_reconciliation"`
	Error               string `cbor:"error,omitempty"`
	Message             string `cbor:"message,omitempty"`
}

type OptInStatusRequest struct {
	Address string `cbor:"address"`
	AssetID uint64 `cbor:"asset_id"`
}

type OptInStatusResponse struct {
	OptedIn bool   `cbor:"opted_in"`
	Error   string `cbor:"error,omitempty"`
	Message string `cbor:"message,omitempty"`
}

type OptInRequestRequest struct {
	Address string `cbor:"address"`
	AssetID uint64 `cbor:"asset_id"`
}

type OptInRequestResponse struct {
	Transaction string `cbor:"transaction"`
	Error       string `cbor:"error,omitempty"`
	Message     string `cbor:"message,omitempty"`
}

type TicketLedgerServer interface {
	CreateTicketBatch(context.Context, *CreateTicketBatchRequest) (*CreateTicketBatchResponse, error)
	MintTicket(context.Context, *MintTicketRequest) (*CreateTicketBatchResponse, error)
	PurchaseTicket(context.Context, *PurchaseTicketRequest) (*PurchaseTicketResponse, error)
	TicketStatus(context.Context, *TicketStatusRequest) (*TicketStatusResponse, error)
	CheckOptInStatus(context.Context, *OptInStatusRequest) (*OptInStatusResponse, error)
	BuildOptInRequest(context.Context, *OptInRequestRequest) (*OptInRequestResponse, error)
}

func RegisterTicketLedgerServer(s grpc.ServiceRegistrar, srv TicketLedgerServer) {
	s.RegisterService(&TicketLedgerServiceDesc, srv)
}

var TicketLedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ticketLedgerServiceName,
	HandlerType: (*TicketLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateTicketBatch", Handler: unaryHandler("CreateTicketBatch", TicketLedgerServer.CreateTicketBatch)},
		{MethodName: "MintTicket", Handler: unaryHandler("MintTicket", TicketLedgerServer.MintTicket)},
		{MethodName: "PurchaseTicket", Handler: unaryHandler("PurchaseTicket", TicketLedgerServer.PurchaseTicket)},
		{MethodName: "TicketStatus", Handler: unaryHandler("TicketStatus", TicketLedgerServer.TicketStatus)},
		{MethodName: "CheckOptInStatus", Handler: unaryHandler("CheckOptInStatus", TicketLedgerServer.CheckOptInStatus)},
		{MethodName: "BuildOptInRequest", Handler: unaryHandler("BuildOptInRequest", TicketLedgerServer.BuildOptInRequest)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ticketledger/v1/ticket_ledger.cbor",
}

// unaryHandler adapts a typed server method to grpc's untyped method handler.
func unaryHandler[Req, Resp any](method string, call func(TicketLedgerServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TicketLedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ticketLedgerServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TicketLedgerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// TicketLedgerClient is the client side of the CBOR TicketLedger service.
type TicketLedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewTicketLedgerClient(cc grpc.ClientConnInterface) *TicketLedgerClient {
	return &TicketLedgerClient{cc: cc}
}

func (c *TicketLedgerClient) CreateTicketBatch(ctx context.Context, in *CreateTicketBatchRequest, opts ...grpc.CallOption) (*CreateTicketBatchResponse, error) {
	out := new(CreateTicketBatchResponse)
	return out, c.invoke(ctx, "CreateTicketBatch", in, out, opts)
}

func (c *TicketLedgerClient) MintTicket(ctx context.Context, in *MintTicketRequest, opts ...grpc.CallOption) (*CreateTicketBatchResponse, error) {
	out := new(CreateTicketBatchResponse)
	return out, c.invoke(ctx, "MintTicket", in, out, opts)
}

func (c *TicketLedgerClient) PurchaseTicket(ctx context.Context, in *PurchaseTicketRequest, opts ...grpc.CallOption) (*PurchaseTicketResponse, error) {
	out := new(PurchaseTicketResponse)
	return out, c.invoke(ctx, "PurchaseTicket", in, out, opts)
}

func (c *TicketLedgerClient) TicketStatus(ctx context.Context, in *TicketStatusRequest, opts ...grpc.CallOption) (*TicketStatusResponse, error) {
	out := new(TicketStatusResponse)
	return out, c.invoke(ctx, "TicketStatus", in, out, opts)
}

func (c *TicketLedgerClient) CheckOptInStatus(ctx context.Context, in *OptInStatusRequest, opts ...grpc.CallOption) (*OptInStatusResponse, error) {
	out := new(OptInStatusResponse)
	return out, c.invoke(ctx, "CheckOptInStatus", in, out, opts)
}

func (c *TicketLedgerClient) BuildOptInRequest(ctx context.Context, in *OptInRequestRequest, opts ...grpc.CallOption) (*OptInRequestResponse, error) {
	out := new(OptInRequestResponse)
	return out, c.invoke(ctx, "BuildOptInRequest", in, out, opts)
}

func (c *TicketLedgerClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ticketLedgerServiceName+"/"+method, in, out, opts...)
}
