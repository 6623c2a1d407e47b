package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

const (
	operationKeyPrefix = "operation:"
	pendingSetKey      = "operations:pending"
	sequenceKeyPrefix  = "sequence:"
)

var ErrOperationNotFound = errors.New("operation not found")

var createOperationScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end

redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

var updateOperationScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end

redis.call('HSET', KEYS[1], 'tx_id', ARGV[1], 'flagged', ARGV[2])
return 1
`)

var incrementAttemptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end

return redis.call('HINCRBY', KEYS[1], 'attempt', 1)
`)

// RedisAdapter keeps pending ledger operations and sequence counters in Redis
// so they survive a process restart.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Create(ctx context.Context, op domain.PendingOperation) error {
	args := []any{op.ID,
		"kind", string(op.Kind),
		"ticket_id", op.TicketID,
		"tx_id", string(op.TxID),
		"buyer", string(op.Buyer),
		"submitted_at", op.SubmittedAt.UnixNano(),
		"attempt", op.Attempt,
		"flagged", formatBool(op.Flagged),
	}

	created, err := createOperationScript.Run(ctx, r.client, []string{operationKey(op.ID), pendingSetKey}, args...).Int()
	if err != nil {
		return fmt.Errorf("create operation %s: %w", op.ID, err)
	}
	if created == 0 {
		return port.ErrOperationExists
	}
	return nil
}

func (r *RedisAdapter) Update(ctx context.Context, op domain.PendingOperation) error {
	updated, err := updateOperationScript.Run(ctx, r.client, []string{operationKey(op.ID)}, string(op.TxID), formatBool(op.Flagged)).Int()
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	if updated == 0 {
		return ErrOperationNotFound
	}
	return nil
}

func (r *RedisAdapter) Get(ctx context.Context, operationID string) (*domain.PendingOperation, error) {
	fields, err := r.client.HGetAll(ctx, operationKey(operationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", operationID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	op, err := parseOperation(operationID, fields)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *RedisAdapter) IncrementAttempt(ctx context.Context, operationID string) (int, error) {
	attempt, err := incrementAttemptScript.Run(ctx, r.client, []string{operationKey(operationID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("increment attempt %s: %w", operationID, err)
	}
	if attempt < 0 {
		return 0, ErrOperationNotFound
	}
	return attempt, nil
}

func (r *RedisAdapter) Delete(ctx context.Context, operationID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, operationKey(operationID))
		pipe.SRem(ctx, pendingSetKey, operationID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete operation %s: %w", operationID, err)
	}
	return nil
}

func (r *RedisAdapter) List(ctx context.Context) ([]domain.PendingOperation, error) {
	ids, err := r.client.SMembers(ctx, pendingSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}

	ops := make([]domain.PendingOperation, 0, len(ids))
	for _, id := range ids {
		op, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if op == nil {
			// index entry outlived its hash
			r.client.SRem(ctx, pendingSetKey, id)
			continue
		}
		ops = append(ops, *op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].SubmittedAt.Before(ops[j].SubmittedAt) })
	return ops, nil
}

// Next implements port.SequenceGenerator with INCR.
func (r *RedisAdapter) Next(ctx context.Context, namespace string) (uint64, error) {
	n, err := r.client.Incr(ctx, sequenceKeyPrefix+namespace).Result()
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", namespace, err)
	}
	return uint64(n), nil
}

func operationKey(id string) string {
	return operationKeyPrefix + id
}

func parseOperation(id string, fields map[string]string) (domain.PendingOperation, error) {
	op := domain.PendingOperation{
		ID:      id,
		Kind:    domain.OperationKind(fields["kind"]),
		TxID:    domain.TxID(fields["tx_id"]),
		Buyer:   domain.Address(fields["buyer"]),
		Flagged: fields["flagged"] == "1",
	}

	var err error
	if op.TicketID, err = strconv.ParseInt(fields["ticket_id"], 10, 64); err != nil {
		return op, fmt.Errorf("operation %s: bad ticket_id: %w", id, err)
	}
	nanos, err := strconv.ParseInt(fields["submitted_at"], 10, 64)
	if err != nil {
		return op, fmt.Errorf("operation %s: bad submitted_at: %w", id, err)
	}
	op.SubmittedAt = time.Unix(0, nanos)
	if op.Attempt, err = strconv.Atoi(fields["attempt"]); err != nil {
		return op, fmt.Errorf("operation %s: bad attempt: %w", id, err)
	}
	return op, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
