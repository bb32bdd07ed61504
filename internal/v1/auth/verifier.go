// Package auth resolves host API keys to valid / invalid.
//
// The mode is fixed once at startup from configuration:
//   - dev: no credentials configured, every key (including empty) verifies.
//   - master key: one shared secret, exact match.
//   - store: read-through lookup against the api_keys table.
//
// Store failures degrade to "invalid key" on the wire; internal errors are
// logged, never surfaced to clients.
package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/airjam/broker/internal/v1/config"
	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

// Verifier resolves an API key to valid or invalid.
type Verifier interface {
	Verify(ctx context.Context, apiKey string) bool
}

// NewVerifier builds the verifier for the configured auth mode.
func NewVerifier(ctx context.Context, cfg *config.Config) (Verifier, error) {
	switch cfg.Mode() {
	case config.AuthModeMasterKey:
		return &MasterKeyVerifier{key: cfg.MasterKey}, nil
	case config.AuthModeStore:
		return NewStoreVerifier(ctx, cfg.DatabaseURL)
	default:
		logging.Warn(ctx, "⚠️  Dev mode active: API keys are NOT verified - do not deploy like this")
		return &DevVerifier{}, nil
	}
}

// DevVerifier accepts everything. Development only.
type DevVerifier struct{}

func (v *DevVerifier) Verify(_ context.Context, _ string) bool {
	metrics.KeyVerifications.WithLabelValues("dev", "valid").Inc()
	return true
}

// MasterKeyVerifier matches one shared secret.
type MasterKeyVerifier struct {
	key string
}

func (v *MasterKeyVerifier) Verify(_ context.Context, apiKey string) bool {
	ok := subtle.ConstantTimeCompare([]byte(v.key), []byte(apiKey)) == 1
	metrics.KeyVerifications.WithLabelValues("master_key", resultLabel(ok)).Inc()
	return ok
}

// StoreVerifier looks keys up in Postgres. Lookups run through a circuit
// breaker so a struggling database cannot stall host registration; an open
// breaker reads as "invalid key".
type StoreVerifier struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker
}

// NewStoreVerifier connects to the credential store and verifies
// connectivity once.
func NewStoreVerifier(ctx context.Context, databaseURL string) (*StoreVerifier, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping credential store: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "api-key-store",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn(context.Background(), "Credential store breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &StoreVerifier{db: db, breaker: breaker}, nil
}

func (v *StoreVerifier) Verify(ctx context.Context, apiKey string) bool {
	id, err := v.breaker.Execute(func() (any, error) {
		return v.lookup(ctx, apiKey)
	})
	if err != nil {
		logging.Error(ctx, "API key lookup failed",
			zap.String("key", logging.RedactKey(apiKey)), zap.Error(err))
		metrics.KeyVerifications.WithLabelValues("store", "error").Inc()
		return false
	}

	keyID := id.(string)
	if keyID == "" {
		metrics.KeyVerifications.WithLabelValues("store", "invalid").Inc()
		return false
	}

	// Best-effort usage stamp; failures are swallowed.
	go v.touchLastUsed(keyID)

	metrics.KeyVerifications.WithLabelValues("store", "valid").Inc()
	return true
}

// lookup returns the key row id, or "" when no active key matches.
func (v *StoreVerifier) lookup(ctx context.Context, apiKey string) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id string
	err := v.db.QueryRowContext(lookupCtx,
		`SELECT id FROM api_keys WHERE key = $1 AND is_active = true`, apiKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (v *StoreVerifier) touchLastUsed(keyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := v.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, keyID); err != nil {
		logging.Warn(ctx, "Failed to stamp api key last_used_at", zap.Error(err))
	}
}

// Ping reports credential-store connectivity for the readiness probe.
func (v *StoreVerifier) Ping(ctx context.Context) error {
	return v.db.PingContext(ctx)
}

// Close releases the store connection pool.
func (v *StoreVerifier) Close() error {
	return v.db.Close()
}

func resultLabel(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}
