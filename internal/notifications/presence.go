package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/remote"

	"github.com/redis/go-redis/v9"
)

const (
	presenceViewersKey   = "presence:viewers"
	presenceHeartbeatNS  = "presence:hb:"
	presenceConnsNS      = "presence:conns:"
	defaultHeartbeatTTL  = 90 * time.Second
	defaultPresenceGrace = 5 * time.Second
	defaultSweepInterval = 60 * time.Second
	presenceWriteTimeout = 5 * time.Second
)

// PresenceConfig tunes presence tracking. Zero fields take defaults.
type PresenceConfig struct {
	// Grace delays the offline record after a viewer's last connection
	// closes; reconnecting inside it never shows them offline.
	Grace time.Duration
	// HeartbeatTTL bounds how long a silent instance keeps a viewer online.
	HeartbeatTTL time.Duration
	// SweepInterval is how often viewers with expired heartbeats are marked
	// offline. Only used with Redis.
	SweepInterval time.Duration
	Now           func() int64
}

// Presence counts viewer connections on this instance and keeps the
// presence/<viewer> records in the store in step with them. With Redis the
// instances share a per-viewer connection count, so the record only goes
// offline once no instance holds a connection. A heartbeat refreshed on
// client activity lets the sweeper recover counts left by dead instances.
type Presence struct {
	store remote.Store
	rdb   *redis.Client
	cfg   PresenceConfig

	mu      sync.Mutex
	conns   map[string]int
	pending map[string]*time.Timer
	written map[string]bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewPresence creates a tracker. store may be nil when only in-memory
// counting is wanted; rdb may be nil for a single instance.
func NewPresence(store remote.Store, rdb *redis.Client, cfg PresenceConfig) *Presence {
	if cfg.Grace <= 0 {
		cfg.Grace = defaultPresenceGrace
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = defaultHeartbeatTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = models.NowMillis
	}
	p := &Presence{
		store:   store,
		rdb:     rdb,
		cfg:     cfg,
		conns:   make(map[string]int),
		pending: make(map[string]*time.Timer),
		written: make(map[string]bool),
		stop:    make(chan struct{}),
	}
	if rdb != nil {
		go p.sweepLoop()
	}
	return p
}

// Connect counts a new connection of viewerID and marks them online if this
// is their first.
func (p *Presence) Connect(ctx context.Context, viewerID string) {
	p.mu.Lock()
	if t, ok := p.pending[viewerID]; ok {
		t.Stop()
		delete(p.pending, viewerID)
	}
	p.conns[viewerID]++
	p.mu.Unlock()

	if p.rdb != nil {
		if err := p.rdb.Incr(ctx, presenceConnsNS+viewerID).Err(); err != nil {
			logPresenceError("INCR", viewerID, err)
		}
	}
	p.Heartbeat(ctx, viewerID)
	p.write(ctx, viewerID, true, false)
}

// Heartbeat refreshes viewerID's shared heartbeat. A missing heartbeat means
// another instance settled the viewer offline, so the online record is
// written again while this instance still holds a connection.
func (p *Presence) Heartbeat(ctx context.Context, viewerID string) {
	if p.rdb == nil {
		return
	}
	if err := p.rdb.SAdd(ctx, presenceViewersKey, viewerID).Err(); err != nil {
		logPresenceError("SADD", viewerID, err)
	}
	stamp := strconv.FormatInt(p.cfg.Now(), 10)
	err := p.rdb.SetArgs(ctx, presenceHeartbeatNS+viewerID, stamp, redis.SetArgs{
		TTL: p.cfg.HeartbeatTTL,
		Get: true,
	}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		p.mu.Lock()
		local := p.conns[viewerID] > 0
		p.mu.Unlock()
		if local {
			p.write(ctx, viewerID, true, true)
		}
	case err != nil:
		logPresenceError("SET", viewerID, err)
	}
}

// Disconnect drops one connection of viewerID. After the last one the
// offline record is written once the grace period passes.
func (p *Presence) Disconnect(viewerID string) {
	if p.rdb != nil {
		if err := p.rdb.Decr(context.Background(), presenceConnsNS+viewerID).Err(); err != nil {
			logPresenceError("DECR", viewerID, err)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[viewerID] > 1 {
		p.conns[viewerID]--
		return
	}
	delete(p.conns, viewerID)
	if t, ok := p.pending[viewerID]; ok {
		t.Stop()
	}
	select {
	case <-p.stop:
		return
	default:
	}
	p.pending[viewerID] = time.AfterFunc(p.cfg.Grace, func() {
		p.settle(context.Background(), viewerID)
	})
}

// IsOnline reports whether viewerID is connected here or, with Redis, has a
// live heartbeat from any instance.
func (p *Presence) IsOnline(ctx context.Context, viewerID string) bool {
	p.mu.Lock()
	local := p.conns[viewerID] > 0
	p.mu.Unlock()
	if local || p.rdb == nil {
		return local
	}
	n, err := p.rdb.Exists(ctx, presenceHeartbeatNS+viewerID).Result()
	return err == nil && n > 0
}

// Stop ends the sweeper and cancels pending offline writes.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.mu.Lock()
		for id, t := range p.pending {
			t.Stop()
			delete(p.pending, id)
		}
		p.mu.Unlock()
	})
}

// settle writes the offline record unless the viewer came back here or still
// holds a connection on another instance.
func (p *Presence) settle(ctx context.Context, viewerID string) {
	p.mu.Lock()
	delete(p.pending, viewerID)
	local := p.conns[viewerID] > 0
	p.mu.Unlock()
	if local {
		return
	}
	if p.rdb != nil {
		if n, err := p.rdb.Get(ctx, presenceConnsNS+viewerID).Int64(); err == nil && n > 0 {
			return
		}
		p.forget(ctx, viewerID)
	}
	p.write(ctx, viewerID, false, false)
}

func (p *Presence) forget(ctx context.Context, viewerID string) {
	if err := p.rdb.Del(ctx, presenceHeartbeatNS+viewerID, presenceConnsNS+viewerID).Err(); err != nil {
		logPresenceError("DEL", viewerID, err)
	}
	_ = p.rdb.SRem(ctx, presenceViewersKey, viewerID).Err()
}

// sweep marks offline every viewer whose heartbeat expired without a
// disconnect, e.g. after an instance crashed.
func (p *Presence) sweep(ctx context.Context) {
	viewers, err := p.rdb.SMembers(ctx, presenceViewersKey).Result()
	if err != nil {
		logPresenceError("SMEMBERS", "", err)
		return
	}
	for _, viewerID := range viewers {
		n, err := p.rdb.Exists(ctx, presenceHeartbeatNS+viewerID).Result()
		if err != nil || n > 0 {
			continue
		}
		p.forget(ctx, viewerID)
		p.mu.Lock()
		local := p.conns[viewerID] > 0
		p.mu.Unlock()
		if !local {
			p.write(ctx, viewerID, false, false)
		}
	}
}

func (p *Presence) sweepLoop() {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep(context.Background())
		}
	}
}

// write stores the presence record when it differs from the last one this
// instance wrote, or always when force is set.
func (p *Presence) write(ctx context.Context, viewerID string, online, force bool) {
	p.mu.Lock()
	if last, ok := p.written[viewerID]; ok && last == online && !force {
		p.mu.Unlock()
		return
	}
	p.written[viewerID] = online
	p.mu.Unlock()

	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, presenceWriteTimeout)
	defer cancel()
	rec := models.Presence{UserID: viewerID, Online: online, LastSeen: p.cfg.Now()}
	if err := p.store.Update(ctx, remote.Set(remote.At(models.CollectionPresence, viewerID), rec)); err != nil {
		observability.StoreWriteErrors.WithLabelValues("presence").Inc()
		observability.GlobalLogger.Warn("presence write failed",
			slog.String("viewer_id", viewerID),
			slog.Bool("online", online),
			slog.String("error", err.Error()),
		)
	}
}

func logPresenceError(command, viewerID string, err error) {
	observability.RedisErrorRate.WithLabelValues(command).Inc()
	observability.GlobalLogger.Warn("presence heartbeat failed",
		slog.String("command", command),
		slog.String("viewer_id", viewerID),
		slog.String("error", err.Error()),
	)
}
