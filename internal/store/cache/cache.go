// Package cache wraps a store.LedgerRepository with a Redis read-through
// cache. Writes go to the backend first and then bump the user's cache
// generation, which retires every entry filled before the write.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/metrics"
	"github.com/dvloznov/bank-ledger/internal/store"
)

const namespace = "ledger:v1"

// ErrNoAddrs is returned by NewClient when no Redis address is given.
var ErrNoAddrs = errors.New("cache: no redis address")

// Client is the subset of redis.UniversalClient the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// NewClient connects to a single Redis node, or a cluster when addrs has
// more than one entry.
func NewClient(addrs []string, password string, db int) (redis.UniversalClient, error) {
	switch len(addrs) {
	case 0:
		return nil, ErrNoAddrs
	case 1:
		return redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Password: password,
			DB:       db,
		}), nil
	default:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		}), nil
	}
}

// Repository is a caching store.LedgerRepository.
//
// A user's ledger and transactions are cached together as one snapshot
// under a key that embeds the user's generation counter. ReplaceUserLedger
// increments the counter after the backend write, so a fill that raced with
// the write lands under a generation no reader will ask for again.
type Repository struct {
	next   store.LedgerRepository
	client Client
	ttl    time.Duration
	log    zerolog.Logger
}

// New wraps next. Cache failures are logged and fall through to next.
func New(next store.LedgerRepository, client Client, ttl time.Duration, log zerolog.Logger) *Repository {
	return &Repository{next: next, client: client, ttl: ttl, log: log}
}

// snapshot is the cached form of one user's materialized state.
type snapshot struct {
	Ledger       domain.UserLedger         `json:"ledger"`
	Transactions []domain.FinalTransaction `json:"transactions"`
}

func generationKey(userID string) string {
	return fmt.Sprintf("%s:%s:gen", namespace, userID)
}

func snapshotKey(userID string, gen int64) string {
	return fmt.Sprintf("%s:%s:g%d", namespace, userID, gen)
}

// ReplaceUserLedger writes through to the backend and retires the user's
// cached snapshot.
func (r *Repository) ReplaceUserLedger(ctx context.Context, ledger domain.UserLedger, txs []domain.FinalTransaction) error {
	if err := r.next.ReplaceUserLedger(ctx, ledger, txs); err != nil {
		return err
	}
	if err := r.client.Incr(ctx, generationKey(ledger.UserID)).Err(); err != nil {
		r.log.Warn().Err(err).Str("user_id", ledger.UserID).Msg("Failed to invalidate cached ledger")
	}
	return nil
}

// GetUserLedger implements store.LedgerRepository.
func (r *Repository) GetUserLedger(ctx context.Context, userID string) (*domain.UserLedger, error) {
	snap, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &snap.Ledger, nil
}

// ListUserTransactions implements store.LedgerRepository.
func (r *Repository) ListUserTransactions(ctx context.Context, userID string) ([]domain.FinalTransaction, error) {
	snap, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snap.Transactions, nil
}

// Close closes the backend and the Redis client.
func (r *Repository) Close() error {
	return errors.Join(r.next.Close(), r.client.Close())
}

func (r *Repository) load(ctx context.Context, userID string) (*snapshot, error) {
	gen, ok := r.generation(ctx, userID)
	if ok {
		var snap snapshot
		if r.lookup(ctx, snapshotKey(userID, gen), &snap) {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return &snap, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	ledger, err := r.next.GetUserLedger(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := r.next.ListUserTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []domain.FinalTransaction{}
	}
	snap := &snapshot{Ledger: *ledger, Transactions: txs}

	// Skip the fill if a replace finished while the backend was read.
	if ok {
		if now, still := r.generation(ctx, userID); still && now == gen {
			r.fill(ctx, snapshotKey(userID, gen), snap)
		}
	}
	return snap, nil
}

// generation returns the user's current cache generation. A missing counter
// is generation 0. ok is false when Redis cannot be read.
func (r *Repository) generation(ctx context.Context, userID string) (int64, bool) {
	gen, err := r.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		r.log.Warn().Err(err).Str("user_id", userID).Msg("Cache read failed")
		return 0, false
	}
	return gen, true
}

func (r *Repository) lookup(ctx context.Context, key string, dst any) bool {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return false
	}
	return true
}

func (r *Repository) fill(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Cache encode failed")
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

var _ store.LedgerRepository = (*Repository)(nil)
