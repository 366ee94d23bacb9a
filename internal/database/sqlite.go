package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderflow/internal/config"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/repository"
	"orderflow/internal/saga"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SingleWriterDB implements Single Writer Principle for SQLite.
// Only one writer can access the database at a time. Reads go through the
// same connection but take no lock.
type SingleWriterDB struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex // Mutex to ensure single writer
}

// NewSingleWriterDB creates a new database connection with single writer principle
func NewSingleWriterDB(cfg *config.Config, logger *zap.Logger) (*SingleWriterDB, error) {
	db, err := sql.Open("sqlite3", cfg.SQLitePath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	swdb := &SingleWriterDB{
		db:     db,
		logger: logger,
	}

	if err := swdb.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return swdb, nil
}

// initSchema creates the database schema
func (swdb *SingleWriterDB) initSchema() error {
	schema := `
	-- Inventory: per-product stock, single source of truth
	CREATE TABLE IF NOT EXISTS inventory (
		product_id TEXT PRIMARY KEY,
		quantity INTEGER NOT NULL DEFAULT 0,
		reserved INTEGER NOT NULL DEFAULT 0,
		min_stock_level INTEGER NOT NULL DEFAULT 10,
		max_stock_level INTEGER NOT NULL DEFAULT 1000,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK(quantity >= 0),
		CHECK(reserved >= 0),
		CHECK(reserved <= quantity)
	);

	-- Orders and their line items
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		total_cents INTEGER NOT NULL,
		shipping_address TEXT,
		billing_address TEXT,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK(total_cents >= 0),
		CHECK(status IN ('PENDING', 'CONFIRMED', 'SHIPPED', 'DELIVERED', 'CANCELLED')),
		CHECK(payment_status IN ('PENDING', 'PAID', 'FAILED', 'REFUNDED'))
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price_cents INTEGER NOT NULL,
		subtotal_cents INTEGER NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE,
		CHECK(quantity > 0)
	);

	-- Payment attempts
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_id TEXT UNIQUE NOT NULL,
		gateway_response TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK(amount_cents > 0),
		CHECK(status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'REFUNDED'))
	);

	-- Stock reservations, at most one per order
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		order_id TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		reserved_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		resolved_at TEXT,
		CHECK(status IN ('ACTIVE', 'RELEASED', 'CONFIRMED', 'EXPIRED'))
	);

	CREATE TABLE IF NOT EXISTS reservation_lines (
		reservation_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (reservation_id, product_id),
		FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE CASCADE,
		CHECK(quantity > 0)
	);

	-- Saga state machine plus the idempotency ledger of applied steps
	CREATE TABLE IF NOT EXISTS saga_states (
		order_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS saga_steps (
		order_id TEXT NOT NULL,
		step TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		PRIMARY KEY (order_id, step)
	);

	-- Outbox: events appended under the writer lock, drained by the relay
	CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		key TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		payload TEXT NOT NULL,
		published INTEGER NOT NULL DEFAULT 0,
		CHECK(published IN (0, 1))
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);
	CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);
	CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id);
	CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status);
	CREATE INDEX IF NOT EXISTS idx_reservations_expires_at ON reservations(expires_at);
	CREATE INDEX IF NOT EXISTS idx_outbox_published ON outbox(published, seq);
	`

	_, err := swdb.db.Exec(schema)
	return err
}

// Ping checks the database connection
func (swdb *SingleWriterDB) Ping() error {
	return swdb.db.Ping()
}

// Close closes the database connection
func (swdb *SingleWriterDB) Close() error {
	return swdb.db.Close()
}

// Inventory returns the inventory store backed by this database
func (swdb *SingleWriterDB) Inventory() repository.InventoryStore { return &inventoryDB{swdb} }

// Orders returns the order store backed by this database
func (swdb *SingleWriterDB) Orders() repository.OrderStore { return &orderDB{swdb} }

// Payments returns the payment store backed by this database
func (swdb *SingleWriterDB) Payments() repository.PaymentStore { return &paymentDB{swdb} }

// Reservations returns the reservation store backed by this database
func (swdb *SingleWriterDB) Reservations() repository.ReservationStore { return &reservationDB{swdb} }

// Outbox returns the outbox store backed by this database
func (swdb *SingleWriterDB) Outbox() events.OutboxStore { return &outboxDB{swdb} }

// Saga returns the saga store backed by this database
func (swdb *SingleWriterDB) Saga() saga.Store { return &sagaDB{swdb} }

type inventoryDB struct{ *SingleWriterDB }

func (s *inventoryDB) Create(ctx context.Context, record *domain.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO inventory (product_id, quantity, reserved, min_stock_level, max_stock_level, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ProductID, record.Quantity, record.Reserved,
		record.MinStockLevel, record.MaxStockLevel, record.Version,
		record.CreatedAt.Format(time.RFC3339), record.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRecordExists
		}
		return fmt.Errorf("failed to create inventory record: %w", err)
	}
	return nil
}

func (s *inventoryDB) FindByProduct(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	query := `
		SELECT product_id, quantity, reserved, min_stock_level, max_stock_level, version, created_at, updated_at
		FROM inventory
		WHERE product_id = ?
	`

	record, err := scanInventory(s.db.QueryRowContext(ctx, query, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get inventory record: %w", err)
	}
	return record, nil
}

func (s *inventoryDB) List(ctx context.Context) ([]*domain.InventoryRecord, error) {
	query := `
		SELECT product_id, quantity, reserved, min_stock_level, max_stock_level, version, created_at, updated_at
		FROM inventory
		ORDER BY product_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var records []*domain.InventoryRecord
	for rows.Next() {
		record, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *inventoryDB) Update(ctx context.Context, record *domain.InventoryRecord, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE inventory
		SET quantity = ?, reserved = ?, min_stock_level = ?, max_stock_level = ?, version = ?, updated_at = ?
		WHERE product_id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		record.Quantity, record.Reserved, record.MinStockLevel, record.MaxStockLevel,
		record.Version, record.UpdatedAt.Format(time.RFC3339),
		record.ProductID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update inventory record: %w", err)
	}
	return s.casOutcome(ctx, result, `SELECT 1 FROM inventory WHERE product_id = ?`, record.ProductID)
}

type orderDB struct{ *SingleWriterDB }

func (s *orderDB) Create(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, total_cents, shipping_address, billing_address, status, payment_status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		order.ID, order.UserID, order.TotalCents,
		order.ShippingAddress, order.BillingAddress,
		string(order.Status), string(order.PaymentStatus), order.Version,
		order.CreatedAt.Format(time.RFC3339), order.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRecordExists
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price_cents, subtotal_cents)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			item.ID, order.ID, item.ProductID, item.ProductName,
			item.Quantity, item.PriceCents, item.SubtotalCents,
		)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	return tx.Commit()
}

func (s *orderDB) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `
		SELECT id, user_id, total_cents, shipping_address, billing_address, status, payment_status, version, created_at, updated_at
		FROM orders
		WHERE id = ?
	`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if err := s.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderDB) FindByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT id, user_id, total_cents, shipping_address, billing_address, status, payment_status, version, created_at, updated_at
		FROM orders
		WHERE user_id = ?
		ORDER BY created_at, id
	`, userID)
}

func (s *orderDB) List(ctx context.Context) ([]*domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT id, user_id, total_cents, shipping_address, billing_address, status, payment_status, version, created_at, updated_at
		FROM orders
		ORDER BY created_at, id
	`)
}

func (s *orderDB) Update(ctx context.Context, order *domain.Order, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Line items are immutable after creation, only the order row changes
	query := `
		UPDATE orders
		SET status = ?, payment_status = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(order.Status), string(order.PaymentStatus),
		order.Version, order.UpdatedAt.Format(time.RFC3339),
		order.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return s.casOutcome(ctx, result, `SELECT 1 FROM orders WHERE id = ?`, order.ID)
}

func (s *orderDB) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if err := s.loadItems(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *orderDB) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity, price_cents, subtotal_cents
		FROM order_items
		WHERE order_id = ?
		ORDER BY id
	`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.PriceCents, &item.SubtotalCents); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

type paymentDB struct{ *SingleWriterDB }

func (s *paymentDB) Create(ctx context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO payments (id, order_id, user_id, amount_cents, method, status, transaction_id, gateway_response, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		payment.ID, payment.OrderID, payment.UserID, payment.AmountCents,
		string(payment.Method), string(payment.Status),
		payment.TransactionID, payment.GatewayResponse,
		payment.CreatedAt.Format(time.RFC3339), payment.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRecordExists
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *paymentDB) FindByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.queryOne(ctx, `WHERE id = ?`, paymentID)
}

func (s *paymentDB) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return s.queryOne(ctx, `WHERE transaction_id = ?`, transactionID)
}

func (s *paymentDB) FindByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	return s.queryMany(ctx, `WHERE order_id = ?`, orderID)
}

func (s *paymentDB) FindByUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	return s.queryMany(ctx, `WHERE user_id = ?`, userID)
}

func (s *paymentDB) List(ctx context.Context) ([]*domain.Payment, error) {
	return s.queryMany(ctx, ``)
}

func (s *paymentDB) Update(ctx context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE payments
		SET status = ?, gateway_response = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(payment.Status), payment.GatewayResponse,
		payment.UpdatedAt.Format(time.RFC3339), payment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

const paymentColumns = `id, order_id, user_id, amount_cents, method, status, transaction_id, gateway_response, created_at, updated_at`

func (s *paymentDB) queryOne(ctx context.Context, where string, args ...interface{}) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ` + where
	payment, err := scanPayment(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

func (s *paymentDB) queryMany(ctx context.Context, where string, args ...interface{}) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ` + where + ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

type reservationDB struct{ *SingleWriterDB }

func (s *reservationDB) Create(ctx context.Context, reservation *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, order_id, status, reserved_at, expires_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		reservation.ID, reservation.OrderID, string(reservation.Status),
		reservation.ReservedAt.Format(time.RFC3339),
		reservation.ExpiresAt.Format(time.RFC3339),
		nullTime(reservation.ResolvedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateReservation
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	for _, line := range reservation.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservation_lines (reservation_id, product_id, quantity)
			VALUES (?, ?, ?)
		`, reservation.ID, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("failed to create reservation line: %w", err)
		}
	}

	return tx.Commit()
}

func (s *reservationDB) FindByOrder(ctx context.Context, orderID string) (*domain.Reservation, error) {
	query := `
		SELECT id, order_id, status, reserved_at, expires_at, resolved_at
		FROM reservations
		WHERE order_id = ?
	`

	reservation, err := scanReservation(s.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	if err := s.loadLines(ctx, reservation); err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *reservationDB) Update(ctx context.Context, reservation *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE reservations
		SET status = ?, resolved_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(reservation.Status), nullTime(reservation.ResolvedAt), reservation.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (s *reservationDB) Expired(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	query := `
		SELECT id, order_id, status, reserved_at, expires_at, resolved_at
		FROM reservations
		WHERE status = 'ACTIVE' AND expires_at < ?
		ORDER BY expires_at
	`

	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*domain.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, reservation := range reservations {
		if err := s.loadLines(ctx, reservation); err != nil {
			return nil, err
		}
	}
	return reservations, nil
}

func (s *reservationDB) loadLines(ctx context.Context, reservation *domain.Reservation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM reservation_lines
		WHERE reservation_id = ?
		ORDER BY product_id
	`, reservation.ID)
	if err != nil {
		return fmt.Errorf("failed to load reservation lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.ReservationLine
		if err := rows.Scan(&line.ProductID, &line.Quantity); err != nil {
			return fmt.Errorf("failed to scan reservation line: %w", err)
		}
		reservation.Lines = append(reservation.Lines, line)
	}
	return rows.Err()
}

type outboxDB struct{ *SingleWriterDB }

func (s *outboxDB) Append(ctx context.Context, event events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO outbox (event_id, name, key, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.Name, event.Key,
		event.OccurredAt.Format(time.RFC3339Nano), string(event.Payload),
	)
	if err != nil {
		// Re-appending a known event id is a harmless redelivery
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

func (s *outboxDB) Pending(ctx context.Context, limit int) ([]events.Envelope, error) {
	query := `
		SELECT event_id, name, key, occurred_at, payload
		FROM outbox
		WHERE published = 0
		ORDER BY seq
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	defer rows.Close()

	var pending []events.Envelope
	for rows.Next() {
		var event events.Envelope
		var occurredAtStr, payload string
		if err := rows.Scan(&event.ID, &event.Name, &event.Key, &occurredAtStr, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAtStr)
		event.Payload = []byte(payload)
		pending = append(pending, event)
	}
	return pending, rows.Err()
}

func (s *outboxDB) MarkPublished(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET published = 1 WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event published: %w", err)
	}
	return nil
}

type sagaDB struct{ *SingleWriterDB }

func (s *sagaDB) Begin(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO saga_states (order_id, state, updated_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		orderID, string(saga.StateCreated), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return saga.ErrSagaExists
		}
		return fmt.Errorf("failed to begin saga: %w", err)
	}
	return nil
}

func (s *sagaDB) State(ctx context.Context, orderID string) (saga.State, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM saga_states WHERE order_id = ?`, orderID,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", saga.ErrSagaNotFound
		}
		return "", fmt.Errorf("failed to get saga state: %w", err)
	}
	return saga.State(state), nil
}

func (s *sagaDB) Transition(ctx context.Context, orderID string, from, to saga.State) error {
	if !saga.CanTransition(from, to) {
		return saga.ErrIllegalTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE saga_states SET state = ?, updated_at = ? WHERE order_id = ? AND state = ?`
	result, err := s.db.ExecContext(ctx, query,
		string(to), time.Now().UTC().Format(time.RFC3339),
		orderID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition saga: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM saga_states WHERE order_id = ?`, orderID,
		).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return saga.ErrSagaNotFound
			}
			return fmt.Errorf("failed to check saga existence: %w", err)
		}
		return saga.ErrStateConflict
	}
	return nil
}

func (s *sagaDB) StepDone(ctx context.Context, orderID, step string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM saga_steps WHERE order_id = ? AND step = ?`, orderID, step,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check saga step: %w", err)
	}
	return true, nil
}

func (s *sagaDB) MarkStep(ctx context.Context, orderID, step string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT OR IGNORE INTO saga_steps (order_id, step, applied_at) VALUES (?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		orderID, step, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark saga step: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// casOutcome distinguishes a missing row from a lost version race after a
// compare-and-swap update touched zero rows.
func (swdb *SingleWriterDB) casOutcome(ctx context.Context, result sql.Result, existsQuery string, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	if err := swdb.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRecordNotFound
		}
		return fmt.Errorf("failed to check row existence: %w", err)
	}
	return repository.ErrVersionConflict
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInventory(row rowScanner) (*domain.InventoryRecord, error) {
	var record domain.InventoryRecord
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&record.ProductID, &record.Quantity, &record.Reserved,
		&record.MinStockLevel, &record.MaxStockLevel, &record.Version,
		&createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	record.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	record.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAtStr)
	return &record, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var status, paymentStatus, createdAtStr, updatedAtStr string

	err := row.Scan(
		&order.ID, &order.UserID, &order.TotalCents,
		&order.ShippingAddress, &order.BillingAddress,
		&status, &paymentStatus, &order.Version,
		&createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.OrderPaymentStatus(paymentStatus)
	order.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	order.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAtStr)
	return &order, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var payment domain.Payment
	var method, status, createdAtStr, updatedAtStr string
	var gatewayResponse sql.NullString

	err := row.Scan(
		&payment.ID, &payment.OrderID, &payment.UserID, &payment.AmountCents,
		&method, &status, &payment.TransactionID, &gatewayResponse,
		&createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)
	payment.GatewayResponse = gatewayResponse.String
	payment.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	payment.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAtStr)
	return &payment, nil
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var reservation domain.Reservation
	var status, reservedAtStr, expiresAtStr string
	var resolvedAtStr sql.NullString

	err := row.Scan(
		&reservation.ID, &reservation.OrderID, &status,
		&reservedAtStr, &expiresAtStr, &resolvedAtStr,
	)
	if err != nil {
		return nil, err
	}

	reservation.Status = domain.ReservationStatus(status)
	reservation.ReservedAt, _ = time.Parse(time.RFC3339, reservedAtStr)
	reservation.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAtStr)
	if resolvedAtStr.Valid {
		resolvedAt, _ := time.Parse(time.RFC3339, resolvedAtStr.String)
		reservation.ResolvedAt = &resolvedAt
	}
	return &reservation, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
