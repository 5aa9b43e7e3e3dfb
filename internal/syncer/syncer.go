// Package syncer reconciles discovered speakers with the persisted device
// registry. Each device is queried and merged independently; one bad
// device never aborts a batch.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resonate-home/resonate/internal/services"
	"github.com/resonate-home/resonate/pkg/models"
)

// defaultConcurrency bounds the sync fan-out. Speakers are slow embedded
// devices; a handful of parallel queries saturates a home LAN fleet.
const defaultConcurrency = 8

// InfoClient queries a device's live identity.
type InfoClient interface {
	Info(ctx context.Context, addr string) (*models.DeviceInformation, error)
}

// CapabilityResolver builds a device's capability snapshot.
type CapabilityResolver interface {
	Resolve(ctx context.Context, addr string) (*models.CapabilitySet, error)
}

// Syncer merges discovery results into the registry.
type Syncer struct {
	repo        services.DeviceRepository
	info        InfoClient
	caps        CapabilityResolver
	logger      *zap.Logger
	metrics     *Metrics
	concurrency int
	now         func() time.Time

	locks keyedMutex
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithConcurrency bounds the number of devices synced in parallel.
func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the time source. Tests use this with a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithMetrics attaches sync counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// New creates a Syncer. repo, info, and logger are required; caps may be
// nil, in which case capability snapshots are left untouched.
func New(repo services.DeviceRepository, info InfoClient, caps CapabilityResolver, logger *zap.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		repo:        repo,
		info:        info,
		caps:        caps,
		logger:      logger,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync processes one batch of discovered devices concurrently and returns
// aggregate counts. Discovered always equals len(discovered) and
// Synced + Failed == Discovered; completion order between devices is
// unspecified. Per-device failures are logged and counted, never raised.
func (s *Syncer) Sync(ctx context.Context, discovered []models.DiscoveredDevice) models.SyncResult {
	result := models.SyncResult{Discovered: len(discovered)}
	if len(discovered) == 0 {
		return result
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, s.concurrency)
	)

	for _, dev := range discovered {
		wg.Add(1)
		go func(dev models.DiscoveredDevice) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := s.syncOne(ctx, dev)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				s.logger.Warn("device sync failed",
					zap.String("address", dev.Address),
					zap.String("device_id", dev.DeviceID),
					zap.Error(err),
				)
			} else {
				result.Synced++
			}
		}(dev)
	}
	wg.Wait()

	if s.metrics != nil {
		s.metrics.observeSync(result)
	}
	s.logger.Info("sync pass complete",
		zap.Int("discovered", result.Discovered),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
	)
	return result
}

// syncOne queries one device and merges it into the registry. The
// registry write section is single-flight per device identifier: two
// discovery entries resolving to the same speaker serialize here instead
// of interleaving their writes.
func (s *Syncer) syncOne(ctx context.Context, dev models.DiscoveredDevice) error {
	info, err := s.info.Info(ctx, dev.Address)
	if err != nil {
		return fmt.Errorf("query device info: %w", err)
	}
	if info.DeviceID == "" {
		return fmt.Errorf("device at %s reported no identifier", dev.Address)
	}

	// Prefer the device's own reported address; discovery's view wins
	// only when the device reports none.
	addr := info.Address()
	if addr == "" {
		addr = dev.Address
	}

	var caps *models.CapabilitySet
	if s.caps != nil {
		caps, err = s.caps.Resolve(ctx, addr)
		if err != nil {
			// Capability resolution is best-effort during sync; keep the
			// previous snapshot rather than failing the device.
			s.logger.Warn("capability resolution failed",
				zap.String("address", addr),
				zap.String("device_id", info.DeviceID),
				zap.Error(err),
			)
			caps = nil
		}
	}

	unlock := s.locks.lock(info.DeviceID)
	defer unlock()

	existing, err := s.repo.GetByID(ctx, info.DeviceID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return fmt.Errorf("load registry record: %w", err)
	}

	merged := merge(existing, info, addr, caps, s.now().UTC())
	if err := s.repo.Upsert(ctx, merged); err != nil {
		return fmt.Errorf("persist registry record: %w", err)
	}
	return nil
}

// merge folds live device information into the existing registry record.
// Address and last-seen are always refreshed; the identifier is immutable;
// name, model, and firmware are only overwritten with non-empty values so
// a transient empty response never clobbers known-good data.
func merge(existing *models.Device, info *models.DeviceInformation, addr string, caps *models.CapabilitySet, now time.Time) *models.Device {
	d := &models.Device{
		DeviceID:  info.DeviceID,
		FirstSeen: now,
		LastSeen:  now,
	}
	if existing != nil {
		*d = *existing
		d.LastSeen = now
	}

	d.Address = addr
	if info.Name != "" {
		d.Name = info.Name
	}
	if info.Model != "" {
		d.Model = info.Model
	}
	if info.FirmwareVersion != "" {
		d.FirmwareVersion = info.FirmwareVersion
	}
	if caps != nil {
		d.Capabilities = caps
	}
	return d
}

// keyedMutex serializes critical sections per string key. The lock map
// grows with the number of distinct identifiers seen, which is bounded by
// the size of the speaker fleet.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
