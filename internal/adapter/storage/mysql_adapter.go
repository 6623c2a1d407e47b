package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

const mysqlDuplicateEntry = 1062

//go:embed schema.sql
var schema string

const ticketColumns = `ticket_id, batch_key, event_name, capacity, asset_id, authoritative, unit_price,
	metadata_url, current_holder, issuance_state, pending_operation_id, needs_reconciliation, reconciliation_note,
	version, created_at, updated_at`

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the ticket table if it does not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ticket_assets: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CreateBatch(ctx context.Context, ticket domain.TicketAsset) (domain.TicketAsset, bool, error) {
	now := time.Now().UTC()
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO ticket_assets (batch_key, event_name, capacity, unit_price, metadata_url, issuance_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.BatchKey, ticket.EventName, ticket.Capacity, ticket.UnitPrice, ticket.MetadataURL, ticket.State, now, now,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			existing, getErr := m.getByBatchKey(ctx, ticket.BatchKey)
			if getErr != nil {
				return domain.TicketAsset{}, false, getErr
			}
			if existing == nil {
				return domain.TicketAsset{}, false, fmt.Errorf("batch %s vanished after duplicate insert", ticket.BatchKey)
			}
			return *existing, false, nil
		}
		return domain.TicketAsset{}, false, fmt.Errorf("insert ticket: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.TicketAsset{}, false, fmt.Errorf("last insert id: %w", err)
	}
	ticket.TicketID = id
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	return ticket, true, nil
}

func (m *MySQLAdapter) Get(ctx context.Context, ticketID int64) (*domain.TicketAsset, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM ticket_assets WHERE ticket_id = ?`, ticketID)
	return scanTicketRow(row)
}

func (m *MySQLAdapter) getByBatchKey(ctx context.Context, batchKey string) (*domain.TicketAsset, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM ticket_assets WHERE batch_key = ?`, batchKey)
	return scanTicketRow(row)
}

// Reserve is the compare-and-swap on pending_operation_id that serializes
// ledger operations per ticket.
func (m *MySQLAdapter) Reserve(ctx context.Context, ticketID int64, operationID string, from, to domain.IssuanceState) error {
	return m.exec(ctx, `
		UPDATE ticket_assets
		SET pending_operation_id = ?, issuance_state = ?, version = version + 1, updated_at = ?
		WHERE ticket_id = ? AND pending_operation_id IS NULL AND issuance_state = ?`,
		operationID, to, time.Now().UTC(), ticketID, from,
	)
}

func (m *MySQLAdapter) Transition(ctx context.Context, ticketID int64, operationID string, from, to domain.IssuanceState) error {
	return m.exec(ctx, `
		UPDATE ticket_assets
		SET issuance_state = ?, version = version + 1, updated_at = ?
		WHERE ticket_id = ? AND pending_operation_id = ? AND issuance_state = ?`,
		to, time.Now().UTC(), ticketID, operationID, from,
	)
}

func (m *MySQLAdapter) RecordIssuance(ctx context.Context, ticketID int64, operationID string, assetID domain.AssetID, authoritative bool) error {
	return m.exec(ctx, `
		UPDATE ticket_assets
		SET asset_id = ?, authoritative = ?, issuance_state = ?, pending_operation_id = NULL,
			version = version + 1, updated_at = ?
		WHERE ticket_id = ? AND pending_operation_id = ? AND asset_id IS NULL`,
		uint64(assetID), authoritative, domain.StateIssued, time.Now().UTC(), ticketID, operationID,
	)
}

func (m *MySQLAdapter) RecordSale(ctx context.Context, ticketID int64, operationID string, holder domain.Address) error {
	return m.exec(ctx, `
		UPDATE ticket_assets
		SET current_holder = ?, issuance_state = ?, pending_operation_id = NULL,
			needs_reconciliation = 0, reconciliation_note = NULL, version = version + 1, updated_at = ?
		WHERE ticket_id = ? AND pending_operation_id = ? AND current_holder IS NULL`,
		string(holder), domain.StateSold, time.Now().UTC(), ticketID, operationID,
	)
}

func (m *MySQLAdapter) Release(ctx context.Context, ticketID int64, operationID string, to domain.IssuanceState) error {
	return m.exec(ctx, `
		UPDATE ticket_assets
		SET pending_operation_id = NULL, issuance_state = ?, needs_reconciliation = 0,
			reconciliation_note = NULL, version = version + 1, updated_at = ?
		WHERE ticket_id = ? AND pending_operation_id = ?`,
		to, time.Now().UTC(), ticketID, operationID,
	)
}

func (m *MySQLAdapter) FlagReconciliation(ctx context.Context, ticketID int64, note string) error {
	return m.exec(ctx, `
		UPDATE ticket_assets
		SET needs_reconciliation = 1, reconciliation_note = ?, version = version + 1, updated_at = ?
		WHERE ticket_id = ?`,
		truncate(note, 255), time.Now().UTC(), ticketID,
	)
}

func (m *MySQLAdapter) ListPending(ctx context.Context) ([]domain.TicketAsset, error) {
	return m.query(ctx, `SELECT `+ticketColumns+` FROM ticket_assets
		WHERE pending_operation_id IS NOT NULL ORDER BY ticket_id DESC`)
}

func (m *MySQLAdapter) ListHeldBy(ctx context.Context, holder domain.Address) ([]domain.TicketAsset, error) {
	return m.query(ctx, `SELECT `+ticketColumns+` FROM ticket_assets
		WHERE current_holder = ? ORDER BY ticket_id DESC`, string(holder))
}

func (m *MySQLAdapter) exec(ctx context.Context, query string, args ...any) error {
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrReservationConflict
	}
	return nil
}

func (m *MySQLAdapter) query(ctx context.Context, query string, args ...any) ([]domain.TicketAsset, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.TicketAsset
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicketRow(row *sql.Row) (*domain.TicketAsset, error) {
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTicket(s scanner) (domain.TicketAsset, error) {
	var (
		t       domain.TicketAsset
		assetID sql.Null[uint64]
		holder  sql.NullString
		pending sql.NullString
		note    sql.NullString
		state   string
	)
	err := s.Scan(&t.TicketID, &t.BatchKey, &t.EventName, &t.Capacity, &assetID, &t.Authoritative, &t.UnitPrice,
		&t.MetadataURL, &holder, &state, &pending, &t.NeedsReconciliation, &note, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, err
	}
	if err != nil {
		return t, fmt.Errorf("scan ticket: %w", err)
	}

	t.State = domain.IssuanceState(state)
	if assetID.Valid {
		id := domain.AssetID(assetID.V)
		t.AssetID = &id
	}
	if holder.Valid {
		h := domain.Address(holder.String)
		t.CurrentHolder = &h
	}
	t.PendingOperationID = pending.String
	t.ReconciliationNote = note.String
	return t, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
