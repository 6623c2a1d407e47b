package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

func getMySQLAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/ticketledger?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter, db
}

func TestMySQLCreateBatch_Idempotent(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	key := "test-" + uuid.NewString()
	defer db.ExecContext(ctx, `DELETE FROM ticket_assets WHERE batch_key = ?`, key)

	first, created, err := adapter.CreateBatch(ctx, newTicket(key))
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if !created {
		t.Error("expected first call to create")
	}

	second, created, err := adapter.CreateBatch(ctx, newTicket(key))
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if created {
		t.Error("expected second call to return existing ticket")
	}
	if second.TicketID != first.TicketID {
		t.Errorf("expected ticket %d, got %d", first.TicketID, second.TicketID)
	}
	if !second.UnitPrice.Equal(first.UnitPrice) {
		t.Errorf("expected price %s, got %s", first.UnitPrice, second.UnitPrice)
	}
}

func TestMySQLCreateBatch_MetadataURL(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	key := "test-" + uuid.NewString()
	defer db.ExecContext(ctx, `DELETE FROM ticket_assets WHERE batch_key = ?`, key)

	ticket := newTicket(key)
	ticket.Capacity = 1
	ticket.MetadataURL = "ipfs://bafy/ticket.json"
	created, _, err := adapter.CreateBatch(ctx, ticket)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	got, err := adapter.Get(ctx, created.TicketID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MetadataURL != ticket.MetadataURL {
		t.Errorf("expected metadata url %q, got %q", ticket.MetadataURL, got.MetadataURL)
	}
}

func TestMySQLReservation_Concurrent(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	key := "test-" + uuid.NewString()
	defer db.ExecContext(ctx, `DELETE FROM ticket_assets WHERE batch_key = ?`, key)

	ticket, _, err := adapter.CreateBatch(ctx, newTicket(key))
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.Reserve(ctx, ticket.TicketID, uuid.NewString(), domain.StateUnissued, domain.StateSubmitting)
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, port.ErrReservationConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected 1 reservation, got %d", wins.Load())
	}
}

func TestMySQLIssuanceAndSale(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	key := "test-" + uuid.NewString()
	defer db.ExecContext(ctx, `DELETE FROM ticket_assets WHERE batch_key = ?`, key)

	ticket, _, err := adapter.CreateBatch(ctx, newTicket(key))
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	id := ticket.TicketID
	buyer := domain.Address("TESTBUYER" + uuid.NewString())

	steps := []func() error{
		func() error { return adapter.Reserve(ctx, id, "issue", domain.StateUnissued, domain.StateSubmitting) },
		func() error {
			return adapter.Transition(ctx, id, "issue", domain.StateSubmitting, domain.StateAwaitingConfirmation)
		},
		func() error { return adapter.RecordIssuance(ctx, id, "issue", 424242, true) },
		func() error { return adapter.Reserve(ctx, id, "sell", domain.StateIssued, domain.StateReservationHeld) },
		func() error { return adapter.RecordSale(ctx, id, "sell", buyer) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	got, err := adapter.Get(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != domain.StateSold {
		t.Errorf("expected sold, got %s", got.State)
	}
	if got.AssetID == nil || *got.AssetID != 424242 {
		t.Errorf("unexpected asset id %v", got.AssetID)
	}
	if got.CurrentHolder == nil || *got.CurrentHolder != buyer {
		t.Errorf("unexpected holder %v", got.CurrentHolder)
	}

	held, err := adapter.ListHeldBy(ctx, buyer)
	if err != nil {
		t.Fatalf("ListHeldBy failed: %v", err)
	}
	if len(held) != 1 {
		t.Errorf("expected 1 held ticket, got %d", len(held))
	}

	if err := adapter.RecordSale(ctx, id, "sell", buyer); !errors.Is(err, port.ErrReservationConflict) {
		t.Errorf("expected conflict on second sale, got %v", err)
	}
}

func TestMySQLGet_Missing(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	got, err := adapter.Get(context.Background(), -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil ticket")
	}
}
