package p2p

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/federation"
)

// DefaultRosterTTL is how long a gateway stays listed without a heartbeat
const DefaultRosterTTL = 90 * time.Second

var validKVKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

// StaticRoster serves a fixed neighbour list
type StaticRoster struct {
	neighbours federation.Roster
}

// NewStaticRoster returns a roster of the non-empty, distinct ids
func NewStaticRoster(ids []string) *StaticRoster {
	roster := make(federation.Roster, 0, len(ids))
	for _, id := range ids {
		if id != "" && !roster.Contains(id) {
			roster = append(roster, id)
		}
	}
	return &StaticRoster{neighbours: roster}
}

// Roster returns a copy of the configured neighbours
func (s *StaticRoster) Roster(context.Context) (federation.Roster, error) {
	return slices.Clone(s.neighbours), nil
}

// BucketOpener gets or creates a key-value bucket
type BucketOpener interface {
	CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error)
}

// KVRosterConfig configures a KVRoster
type KVRosterConfig struct {
	Bucket string
	// Self is this gateway's platform ID. It is published but never listed.
	Self string
	TTL  time.Duration
	// OnHeartbeat, when set, observes the outcome of every registration Run makes
	OnHeartbeat func(err error)
}

type rosterEntry struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// KVRoster lists online neighbours from a JetStream key-value bucket.
// Keys are platform IDs. The bucket's max age expires stale entries.
type KVRoster struct {
	kv     jetstream.KeyValue
	self        string
	ttl         time.Duration
	onHeartbeat func(error)
	logger      *slog.Logger
}

// NewKVRoster opens (or creates) the roster bucket
func NewKVRoster(ctx context.Context, opener BucketOpener, cfg KVRosterConfig, logger *slog.Logger) (*KVRoster, error) {
	if cfg.Bucket == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "KVRoster", "New", "bucket is required")
	}
	if !validKVKey.MatchString(cfg.Self) {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "KVRoster", "New",
			fmt.Sprintf("platform ID %q is not a valid roster key", cfg.Self))
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRosterTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := opener.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Gateways online on the overlay",
		History:     1,
		TTL:         cfg.TTL,
	})
	if err != nil {
		return nil, err
	}

	return &KVRoster{
		kv:          kv,
		self:        cfg.Self,
		ttl:         cfg.TTL,
		onHeartbeat: cfg.OnHeartbeat,
		logger:      logger.With("component", "p2p-roster", "bucket", cfg.Bucket),
	}, nil
}

// Roster returns the sorted platform IDs currently in the bucket, minus self
func (r *KVRoster) Roster(ctx context.Context) (federation.Roster, error) {
	keys, err := r.kv.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return federation.Roster{}, nil
		}
		return nil, errors.WrapTransient(err, "KVRoster", "Roster", "list roster keys")
	}

	roster := make(federation.Roster, 0, len(keys))
	for _, key := range keys {
		if key != r.self {
			roster = append(roster, key)
		}
	}
	slices.Sort(roster)
	return roster, nil
}

// Register publishes this gateway in the roster
func (r *KVRoster) Register(ctx context.Context) error {
	data, err := json.Marshal(rosterEntry{ID: r.self, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return errors.WrapInvalid(err, "KVRoster", "Register", "marshal roster entry")
	}
	if _, err := r.kv.Put(ctx, r.self, data); err != nil {
		return errors.WrapTransient(err, "KVRoster", "Register", "put roster entry")
	}
	return nil
}

// Deregister removes this gateway from the roster
func (r *KVRoster) Deregister(ctx context.Context) error {
	if err := r.kv.Delete(ctx, r.self); err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.WrapTransient(err, "KVRoster", "Deregister", "delete roster entry")
	}
	return nil
}

// Run registers this gateway and refreshes the entry at a third of the TTL
// until ctx is done, then deregisters it.
func (r *KVRoster) Run(ctx context.Context) error {
	if err := r.heartbeat(ctx); err != nil {
		return err
	}
	r.logger.Info("Registered in roster", "platform_id", r.self, "ttl", r.ttl)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.Deregister(stopCtx); err != nil {
				r.logger.Warn("Failed to deregister from roster", "error", err)
			}
			return nil
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil {
				r.logger.Warn("Roster heartbeat failed", "error", err)
			}
		}
	}
}

func (r *KVRoster) heartbeat(ctx context.Context) error {
	err := r.Register(ctx)
	if r.onHeartbeat != nil {
		r.onHeartbeat(err)
	}
	return err
}
