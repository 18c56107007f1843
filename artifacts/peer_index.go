package artifacts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/aiteam/mindbus/core"
)

// PeerIndex records, in Redis, which artifact IDs are currently sitting in
// a node's local degraded-mode buffer, so another instance can ask
// IsBuffered about an artifact a peer holds. Store's startup recovery scan
// reads only its own local filesystem buffer and does not consult a
// PeerIndex. It is optional: artifact registration never depends on Redis
// being up.
type PeerIndex struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// PeerIndexOptions configures a PeerIndex.
type PeerIndexOptions struct {
	RedisURL  string
	Namespace string
	Logger    core.Logger
}

// NewPeerIndex connects to Redis and verifies connectivity with a short
// ping timeout. Returns an error rather than a degraded handle: callers
// that want the buffer to work without Redis should simply not construct
// a PeerIndex at all (§2.1 of the implementation spec: off by default).
func NewPeerIndex(opts PeerIndexOptions) (*PeerIndex, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", core.ErrInvalidConfiguration)
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to peer index redis: %w", core.ErrConnectionFailed)
	}

	if opts.Logger != nil {
		opts.Logger.Info("artifact peer index connected", map[string]interface{}{
			"namespace": opts.Namespace,
		})
	}

	return &PeerIndex{client: client, namespace: opts.Namespace, logger: opts.Logger}, nil
}

// Close releases the underlying connection.
func (p *PeerIndex) Close() error {
	return p.client.Close()
}

func (p *PeerIndex) key(artifactID string) string {
	if p.namespace != "" {
		return fmt.Sprintf("%s:buffered:%s", p.namespace, artifactID)
	}
	return "buffered:" + artifactID
}

// MarkBuffered records that artifactID is sitting in this node's local
// degraded-mode buffer, valid for ttl (refreshed on every buffer write so
// a crashed node's entries age out naturally).
func (p *PeerIndex) MarkBuffered(ctx context.Context, artifactID string, ttl time.Duration) error {
	return p.client.Set(ctx, p.key(artifactID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// Unmark removes the buffered marker once the artifact has been
// reconciled into the catalog.
func (p *PeerIndex) Unmark(ctx context.Context, artifactID string) error {
	return p.client.Del(ctx, p.key(artifactID)).Err()
}

// IsBuffered reports whether any node (including this one) currently has
// artifactID recorded as buffered.
func (p *PeerIndex) IsBuffered(ctx context.Context, artifactID string) (bool, error) {
	n, err := p.client.Exists(ctx, p.key(artifactID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HealthCheck verifies connectivity, used by the store's own health
// reporting when a peer index is configured.
func (p *PeerIndex) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
