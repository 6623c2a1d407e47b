package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisNext_Mock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db)

	mock.ExpectIncr("sequence:fallback-asset").SetVal(7)

	n, err := adapter.Next(context.Background(), "fallback-asset")

	assert.NoError(t, err)
	assert.Equal(t, uint64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisNext_MockError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db)

	mock.ExpectIncr("sequence:fallback-asset").SetErr(errors.New("connection refused"))

	_, err := adapter.Next(context.Background(), "fallback-asset")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRedisGet_Mock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db)

	submitted := time.Unix(1700000000, 0)
	mock.ExpectHGetAll("operation:op-1").SetVal(map[string]string{
		"kind":         "transfer",
		"ticket_id":    "12",
		"tx_id":        "TXABC",
		"buyer":        "BUYER",
		"submitted_at": "1700000000000000000",
		"attempt":      "3",
		"flagged":      "1",
	})

	op, err := adapter.Get(context.Background(), "op-1")

	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, domain.OperationTransfer, op.Kind)
	assert.Equal(t, int64(12), op.TicketID)
	assert.Equal(t, domain.TxID("TXABC"), op.TxID)
	assert.Equal(t, domain.Address("BUYER"), op.Buyer)
	assert.True(t, op.SubmittedAt.Equal(submitted))
	assert.Equal(t, 3, op.Attempt)
	assert.True(t, op.Flagged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGet_MockMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db)

	mock.ExpectHGetAll("operation:nope").SetVal(map[string]string{})

	op, err := adapter.Get(context.Background(), "nope")

	assert.NoError(t, err)
	assert.Nil(t, op)
}

func TestRedisGet_MockCorrupt(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db)

	mock.ExpectHGetAll("operation:bad").SetVal(map[string]string{"ticket_id": "x"})

	_, err := adapter.Get(context.Background(), "bad")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad ticket_id")
}

func TestRedisDelete_Mock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db)

	mock.ExpectTxPipeline()
	mock.ExpectDel("operation:op-1").SetVal(1)
	mock.ExpectSRem("operations:pending", "op-1").SetVal(1)
	mock.ExpectTxPipelineExec()

	assert.NoError(t, adapter.Delete(context.Background(), "op-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisOperationLifecycle(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	op := domain.PendingOperation{
		ID:          uuid.NewString(),
		Kind:        domain.OperationIssuance,
		TicketID:    5,
		SubmittedAt: time.Now(),
	}
	defer adapter.Delete(ctx, op.ID)

	if err := adapter.Create(ctx, op); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := adapter.Create(ctx, op); !errors.Is(err, port.ErrOperationExists) {
		t.Errorf("expected ErrOperationExists, got %v", err)
	}

	op.TxID = "TX-LIFECYCLE"
	if err := adapter.Update(ctx, op); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	attempt, err := adapter.IncrementAttempt(ctx, op.ID)
	if err != nil {
		t.Fatalf("IncrementAttempt failed: %v", err)
	}
	if attempt != 1 {
		t.Errorf("expected attempt 1, got %d", attempt)
	}

	got, err := adapter.Get(ctx, op.ID)
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TxID != "TX-LIFECYCLE" {
		t.Errorf("expected tx id TX-LIFECYCLE, got %s", got.TxID)
	}

	ops, err := adapter.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	found := false
	for _, o := range ops {
		if o.ID == op.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected operation in pending index")
	}

	if err := adapter.Delete(ctx, op.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := adapter.IncrementAttempt(ctx, op.ID); !errors.Is(err, ErrOperationNotFound) {
		t.Errorf("expected ErrOperationNotFound, got %v", err)
	}
	if err := adapter.Update(ctx, op); !errors.Is(err, ErrOperationNotFound) {
		t.Errorf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestRedisCreate_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	id := uuid.NewString()
	defer adapter.Delete(ctx, id)

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.Create(ctx, domain.PendingOperation{ID: id, Kind: domain.OperationTransfer, TicketID: 1, SubmittedAt: time.Now()})
			if err == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("expected exactly 1 create, got %d", created.Load())
	}
}
