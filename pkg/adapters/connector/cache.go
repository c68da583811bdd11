package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/logging"
	"github.com/strata-data/extract-engine/pkg/models"
	"github.com/strata-data/extract-engine/pkg/retry"
)

const (
	DefaultConnectorTTL    = 5 * time.Minute
	DefaultCleanupInterval = 1 * time.Minute
)

// Cache is an orchestrator-owned cache of live connectors keyed by source
// id. Connectors are created on first use, reused while warm, evicted
// after sitting idle past the TTL, and all closed on shutdown.
//
// Each entry carries an in-use count: Get takes a reference and Release
// drops it. The TTL sweep never evicts an entry with a live reference,
// and Invalidate on one defers the close until the last holder releases,
// so a connector is never closed under a running extraction. Shutdown is
// the one exception: Close tears everything down unconditionally.
type Cache struct {
	mu      sync.Mutex
	conns   map[string]*cachedConnector
	retired []*cachedConnector // invalidated while held, closed on last release
	ttl     time.Duration
	stopped bool

	factory  Factory
	stopChan chan struct{}
	logger   *zap.Logger
}

type cachedConnector struct {
	sourceID string
	conn     Connector
	lastUsed time.Time
	inUse    int
}

// NewCache creates a connector cache. ttl <= 0 uses the default. The
// background eviction goroutine runs until Close is called.
func NewCache(factory Factory, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultConnectorTTL
	}
	c := &Cache{
		conns:    make(map[string]*cachedConnector),
		ttl:      ttl,
		factory:  factory,
		stopChan: make(chan struct{}),
		logger:   logger.Named("connector-cache"),
	}
	go c.evictLoop()
	return c
}

// Get returns a connected connector for the source, creating and
// connecting one if the cache is cold, and takes a reference on it.
// Callers must pair every successful Get with a Release. Connect
// attempts use the shared retry policy since dial failures are usually
// transient.
func (c *Cache) Get(ctx context.Context, desc *models.SourceDescriptor) (Connector, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, fmt.Errorf("connector cache is closed")
	}
	if cached, ok := c.conns[desc.SourceID]; ok {
		cached.inUse++
		cached.lastUsed = time.Now()
		c.mu.Unlock()
		return cached.conn, nil
	}
	c.mu.Unlock()

	conn, err := c.factory.New(desc)
	if err != nil {
		return nil, err
	}

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return conn.Connect(ctx)
	}); err != nil {
		_ = conn.Close()
		c.logger.Warn("connector connect failed",
			zap.String("source_id", desc.SourceID),
			zap.String("source_type", string(desc.Type)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("connect to %s: %w", desc.SourceID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		_ = conn.Close()
		return nil, fmt.Errorf("connector cache is closed")
	}
	// Another goroutine may have raced us here; keep the existing one.
	if existing, ok := c.conns[desc.SourceID]; ok {
		_ = conn.Close()
		existing.inUse++
		existing.lastUsed = time.Now()
		return existing.conn, nil
	}
	c.conns[desc.SourceID] = &cachedConnector{
		sourceID: desc.SourceID,
		conn:     conn,
		lastUsed: time.Now(),
		inUse:    1,
	}

	c.logger.Info("connector created",
		zap.String("source_id", desc.SourceID),
		zap.String("source_type", string(desc.Type)))
	return conn, nil
}

// Release drops the reference taken by Get. If the connector was
// invalidated while held, the last release closes it.
func (c *Cache) Release(sourceID string, conn Connector) {
	c.mu.Lock()
	if cached, ok := c.conns[sourceID]; ok && cached.conn == conn {
		if cached.inUse > 0 {
			cached.inUse--
		}
		cached.lastUsed = time.Now()
		c.mu.Unlock()
		return
	}

	var toClose *cachedConnector
	for i, cached := range c.retired {
		if cached.conn != conn {
			continue
		}
		cached.inUse--
		if cached.inUse <= 0 {
			c.retired = append(c.retired[:i], c.retired[i+1:]...)
			toClose = cached
		}
		break
	}
	c.mu.Unlock()

	if toClose != nil {
		c.closeConnector(toClose, "closing retired connector")
	}
}

// Invalidate removes the cached connector for a source so the next
// attempt reconnects fresh. An idle connector closes immediately; one
// still held by an extraction is retired and closed on its last release.
func (c *Cache) Invalidate(sourceID string) {
	c.mu.Lock()
	cached, ok := c.conns[sourceID]
	if ok {
		delete(c.conns, sourceID)
		if cached.inUse > 0 {
			c.retired = append(c.retired, cached)
			cached = nil
		}
	}
	c.mu.Unlock()

	if ok && cached != nil {
		c.closeConnector(cached, "closing invalidated connector")
	}
}

// Size returns the number of cached connectors.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Close stops eviction and closes every cached connector, held or not.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopChan)
	all := make([]*cachedConnector, 0, len(c.conns)+len(c.retired))
	for _, cached := range c.conns {
		all = append(all, cached)
	}
	all = append(all, c.retired...)
	c.conns = make(map[string]*cachedConnector)
	c.retired = nil
	c.mu.Unlock()

	for _, cached := range all {
		c.closeConnector(cached, "closing connector on shutdown")
	}
}

func (c *Cache) closeConnector(cached *cachedConnector, msg string) {
	if err := cached.conn.Close(); err != nil {
		c.logger.Warn(msg,
			zap.String("source_id", cached.sourceID),
			zap.String("error", logging.SanitizeError(err)))
	}
}

func (c *Cache) evictLoop() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stopChan:
			return
		}
	}
}

// evictExpired closes connectors idle past the TTL. Entries with a live
// reference are skipped; their lastUsed resets at release, so they only
// expire after sitting genuinely idle.
func (c *Cache) evictExpired() {
	cutoff := time.Now().Add(-c.ttl)

	c.mu.Lock()
	var expired []*cachedConnector
	for sourceID, cached := range c.conns {
		if cached.inUse > 0 {
			continue
		}
		if cached.lastUsed.Before(cutoff) {
			expired = append(expired, cached)
			delete(c.conns, sourceID)
		}
	}
	c.mu.Unlock()

	for _, cached := range expired {
		_ = cached.conn.Close()
		c.logger.Debug("evicted idle connector", zap.String("source_id", cached.sourceID))
	}
}
