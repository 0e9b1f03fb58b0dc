package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/confirmation"
	"github.com/mn-ibiz/pos-sub020/logging"
)

// Schema creates the transition table
const Schema = `
CREATE TABLE IF NOT EXISTS payment_transitions (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	attempt_id CHAR(36) NOT NULL,
	sale_id VARCHAR(64) NOT NULL,
	amount DECIMAL(15,2) NOT NULL,
	payee VARCHAR(20) NOT NULL,
	correlation_token VARCHAR(128) NULL,
	from_state VARCHAR(32) NOT NULL,
	to_state VARCHAR(32) NOT NULL,
	event VARCHAR(32) NOT NULL,
	receipt_ref VARCHAR(64) NULL,
	reason VARCHAR(64) NULL,
	occurred_at DATETIME(3) NOT NULL,
	INDEX idx_payment_transitions_attempt (attempt_id),
	INDEX idx_payment_transitions_sale (sale_id)
)`

const recordTimeout = 3 * time.Second

// MySQLRecorder appends each transition to the payment_transitions table
type MySQLRecorder struct {
	db *sql.DB
}

// OpenMySQL opens and pings the audit database
func OpenMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewMySQLRecorder creates a recorder on db
func NewMySQLRecorder(db *sql.DB) *MySQLRecorder {
	return &MySQLRecorder{db: db}
}

// EnsureSchema creates the transition table if it is missing
func (r *MySQLRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create payment_transitions: %w", err)
	}
	return nil
}

// Record inserts one transition row
func (r *MySQLRecorder) Record(ctx context.Context, snap confirmation.Snapshot, t confirmation.Transition) error {
	query := `
		INSERT INTO payment_transitions (
			attempt_id, sale_id, amount, payee, correlation_token,
			from_state, to_state, event, receipt_ref, reason, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var receipt, reason sql.NullString
	if t.To.IsTerminal() && snap.Result != nil {
		receipt = sql.NullString{String: snap.Result.ReceiptRef, Valid: snap.Result.ReceiptRef != ""}
		reason = sql.NullString{String: snap.Result.Reason, Valid: snap.Result.Reason != ""}
	}

	_, err := r.db.ExecContext(ctx, query,
		snap.AttemptID,
		snap.SaleID,
		snap.Amount.StringFixed(2),
		snap.Payee,
		sql.NullString{String: snap.CorrelationToken, Valid: snap.CorrelationToken != ""},
		t.From.String(),
		t.To.String(),
		string(t.Event),
		receipt,
		reason,
		t.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// ObserveTransition records t; failures are logged and never stop the attempt
func (r *MySQLRecorder) ObserveTransition(ctx context.Context, snap confirmation.Snapshot, t confirmation.Transition) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if err := r.Record(ctx, snap, t); err != nil {
		logging.FromContext(ctx).Error("Failed to record transition",
			zap.Error(err),
			zap.String("attempt_id", snap.AttemptID),
			zap.String("to", t.To.String()),
		)
	}
}
