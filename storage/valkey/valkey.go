// Package valkey provides a Valkey-backed FlowStore for multi-instance
// deployments. TTL handling is delegated to the server, so no cleanup
// goroutine is needed; keys simply expire.
package valkey

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/kestrelhq/dirgate/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "dirgate:"

	// connectionVerifyTimeout bounds the initial PING.
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds the Valkey connection configuration.
type Config struct {
	// Address is the host:port of the Valkey server (required).
	Address string

	// Password for AUTH, if the server requires one.
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// TLS enables TLS when non-nil.
	TLS *tls.Config

	// Logger for connection lifecycle messages.
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.FlowStore.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// New connects to Valkey and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey flow store",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
}

// SaveLoginState stores a pending login flow with a server-side TTL.
func (s *Store) SaveLoginState(ctx context.Context, state *storage.LoginState) error {
	if state == nil || state.State == "" {
		return fmt.Errorf("invalid login state")
	}

	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("login state already expired")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal login state: %w", err)
	}

	key := s.loginStateKey(state.State)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save login state: %w", err)
	}
	return nil
}

// ConsumeLoginState atomically fetches and deletes a login state via GETDEL.
func (s *Store) ConsumeLoginState(ctx context.Context, state string) (*storage.LoginState, error) {
	key := s.loginStateKey(state)

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrLoginStateNotFound
		}
		return nil, fmt.Errorf("failed to consume login state: %w", err)
	}

	var ls storage.LoginState
	if err := json.Unmarshal([]byte(data), &ls); err != nil {
		return nil, fmt.Errorf("failed to unmarshal login state: %w", err)
	}

	// TTL should have expired the key, but guard against clock drift.
	if time.Now().After(ls.ExpiresAt) {
		return nil, storage.ErrLoginStateNotFound
	}
	return &ls, nil
}

// MarkCodeRedeemed records a code redemption with SET NX, which is atomic
// across gateway replicas. Codes are keyed by their SHA-256 hash so the raw
// credential never reaches the cache.
func (s *Store) MarkCodeRedeemed(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	if code == "" {
		return false, fmt.Errorf("code is required")
	}

	key := s.redeemedCodeKey(code)
	err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value("1").Nx().Ex(ttl).Build(),
	).Error()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			// SET NX returns nil when the key already exists.
			return false, nil
		}
		return false, fmt.Errorf("failed to mark code redeemed: %w", err)
	}
	return true, nil
}

func (s *Store) loginStateKey(state string) string {
	return s.prefix + "login_state:" + state
}

func (s *Store) redeemedCodeKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return s.prefix + "redeemed_code:" + hex.EncodeToString(sum[:])
}

var _ storage.FlowStore = (*Store)(nil)
