package inventory_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/artist-platform/internal/catalog"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
	"github.com/vasiliy-maslov/artist-platform/internal/inventory"
)

var now = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func TestCheckTicketType(t *testing.T) {
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	base := func() *catalog.TicketType {
		return &catalog.TicketType{
			ID:          uuid.Must(uuid.NewV4()),
			Quantity:    10,
			Sold:        8,
			MaxPerOrder: 10,
			IsActive:    true,
		}
	}

	tests := []struct {
		name    string
		mutate  func(tt *catalog.TicketType)
		qty     int
		wantErr error
	}{
		{name: "fits", qty: 2},
		{name: "three_of_two_remaining", qty: 3, wantErr: domain.ErrInsufficientInventory},
		{name: "inactive", mutate: func(tt *catalog.TicketType) { tt.IsActive = false }, qty: 1, wantErr: domain.ErrInactiveOrClosed},
		{name: "not_started", mutate: func(tt *catalog.TicketType) { tt.SalesStart = &future }, qty: 1, wantErr: domain.ErrInactiveOrClosed},
		{name: "ended", mutate: func(tt *catalog.TicketType) { tt.SalesEnd = &past }, qty: 1, wantErr: domain.ErrInactiveOrClosed},
		{name: "open_window", mutate: func(tt *catalog.TicketType) { tt.SalesStart, tt.SalesEnd = &past, &future }, qty: 1},
		{name: "over_max_per_order", mutate: func(tt *catalog.TicketType) { tt.Sold, tt.MaxPerOrder = 0, 4 }, qty: 5, wantErr: domain.ErrInsufficientInventory},
		{name: "zero_quantity", qty: 0, wantErr: domain.ErrValidation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ticketType := base()
			if tc.mutate != nil {
				tc.mutate(ticketType)
			}

			err := inventory.CheckTicketType(ticketType, tc.qty, now)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCheckStock(t *testing.T) {
	ref := inventory.ProductRef(uuid.Must(uuid.NewV4()))

	assert.NoError(t, inventory.CheckStock(ref, true, 5, 5))
	assert.ErrorIs(t, inventory.CheckStock(ref, true, 2, 3), domain.ErrInsufficientInventory)
	assert.ErrorIs(t, inventory.CheckStock(ref, false, 10, 1), domain.ErrInactiveOrClosed)
	assert.ErrorIs(t, inventory.CheckStock(ref, true, 10, -1), domain.ErrValidation)
}

func TestCheckRelease(t *testing.T) {
	ref := inventory.TicketTypeRef(uuid.Must(uuid.NewV4()))

	assert.NoError(t, inventory.CheckRelease(ref, 5, 3))
	assert.NoError(t, inventory.CheckRelease(ref, -1, 3))
	assert.ErrorIs(t, inventory.CheckRelease(ref, 2, 3), domain.ErrConflict)
	assert.ErrorIs(t, inventory.CheckRelease(ref, 5, 0), domain.ErrValidation)
}

func TestMerge(t *testing.T) {
	a := uuid.FromStringOrNil("00000000-0000-0000-0000-00000000000a")
	b := uuid.FromStringOrNil("00000000-0000-0000-0000-00000000000b")

	merged := inventory.Merge([]inventory.Reservation{
		{Ref: inventory.TicketTypeRef(a), Quantity: 1},
		{Ref: inventory.ProductRef(b), Quantity: 2},
		{Ref: inventory.ProductRef(a), Quantity: 1},
		{Ref: inventory.ProductRef(b), Quantity: 3},
	})

	assert.Equal(t, []inventory.Reservation{
		{Ref: inventory.ProductRef(a), Quantity: 1},
		{Ref: inventory.ProductRef(b), Quantity: 5},
		{Ref: inventory.TicketTypeRef(a), Quantity: 1},
	}, merged)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

type mockQuerier struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.execFunc(ctx, sql, args...)
}

func (m *mockQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not expected")
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.queryRowFunc(ctx, sql, args...)
}

func productRow(id uuid.UUID, stock int, active bool) fakeRow {
	return fakeRow{values: []any{
		id, "Tour Hoodie", decimal.RequireFromString("55.00"), stock,
		decimal.NullDecimal{}, active, now, now,
	}}
}

func TestLedger_Reserve(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name     string
		affected string
		row      fakeRow
		qty      int
		wantErr  error
	}{
		{name: "reserved", affected: "UPDATE 1", qty: 3},
		{name: "insufficient", affected: "UPDATE 0", row: productRow(productID, 2, true), qty: 3, wantErr: domain.ErrInsufficientInventory},
		{name: "inactive", affected: "UPDATE 0", row: productRow(productID, 10, false), qty: 3, wantErr: domain.ErrInactiveOrClosed},
		{name: "missing", affected: "UPDATE 0", row: fakeRow{err: pgx.ErrNoRows}, qty: 3, wantErr: domain.ErrNotFound},
		{name: "raced", affected: "UPDATE 0", row: productRow(productID, 10, true), qty: 3, wantErr: domain.ErrInsufficientInventory},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var execArgs []any
			q := &mockQuerier{
				execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					execArgs = args
					return pgconn.NewCommandTag(tc.affected), nil
				},
				queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return tc.row
				},
			}

			ledger := inventory.NewLedger(func() time.Time { return now })
			err := ledger.Reserve(context.Background(), q, inventory.Reservation{Ref: inventory.ProductRef(productID), Quantity: tc.qty})

			require.Equal(t, []any{productID, tc.qty}, execArgs)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLedger_Reserve_TicketTypePassesClock(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	var execArgs []any
	q := &mockQuerier{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			execArgs = args
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}

	ledger := inventory.NewLedger(func() time.Time { return now })
	err := ledger.Reserve(context.Background(), q, inventory.Reservation{Ref: inventory.TicketTypeRef(id), Quantity: 2})

	require.NoError(t, err)
	assert.Equal(t, []any{id, 2, now}, execArgs)
}

func TestLedger_Release(t *testing.T) {
	id := uuid.Must(uuid.NewV4())

	tests := []struct {
		name     string
		ref      inventory.Ref
		affected string
		row      fakeRow
		wantErr  error
	}{
		{name: "stock_released", ref: inventory.ProductRef(id), affected: "UPDATE 1"},
		{name: "stock_missing", ref: inventory.VariantRef(id), affected: "UPDATE 0", wantErr: domain.ErrNotFound},
		{name: "tickets_released", ref: inventory.TicketTypeRef(id), affected: "UPDATE 1"},
		{name: "tickets_underflow", ref: inventory.TicketTypeRef(id), affected: "UPDATE 0", row: fakeRow{values: []any{1}}, wantErr: domain.ErrConflict},
		{name: "ticket_type_missing", ref: inventory.TicketTypeRef(id), affected: "UPDATE 0", row: fakeRow{err: pgx.ErrNoRows}, wantErr: domain.ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := &mockQuerier{
				execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					return pgconn.NewCommandTag(tc.affected), nil
				},
				queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return tc.row
				},
			}

			err := inventory.NewLedger(nil).Release(context.Background(), q, inventory.Reservation{Ref: tc.ref, Quantity: 3})
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
