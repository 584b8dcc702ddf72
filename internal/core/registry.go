// services/gateway/internal/core/registry.go
package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultLookupTimeout = 10 * time.Second
	mirrorWriteTimeout   = 2 * time.Second
)

// RegistryConfig configures a Registry. Provider and Mirror may be nil;
// without them a cache miss resolves to absent.
type RegistryConfig struct {
	Provider      DeviceInfoProvider
	Mirror        SnapshotMirror
	LookupTimeout time.Duration
	Logger        *logrus.Logger
}

// Registry is the in-memory device cache. Mutations are serialized against
// reads; a reader always observes a complete pre- or post-mutation state.
type Registry struct {
	mu       sync.RWMutex
	devices  map[string]DeviceRecord
	provider DeviceInfoProvider
	mirror   SnapshotMirror
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Registry{
		devices:  make(map[string]DeviceRecord),
		provider: cfg.Provider,
		mirror:   cfg.Mirror,
		timeout:  cfg.LookupTimeout,
		logger:   cfg.Logger,
	}
}

// Bootstrap replaces the registry contents with the given snapshot.
func (r *Registry) Bootstrap(records []DeviceRecord) {
	devices := make(map[string]DeviceRecord, len(records))
	for _, rec := range records {
		devices[rec.ID] = rec
	}

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	for _, rec := range records {
		r.mirrorStore(rec)
	}
	r.logger.WithField("devices", len(records)).Info("Device registry bootstrapped")
}

// Upsert adds or replaces a device record. Repeated upserts with the same
// id replace, never duplicate.
func (r *Registry) Upsert(rec DeviceRecord) {
	r.mu.Lock()
	r.devices[rec.ID] = rec
	r.mu.Unlock()

	r.mirrorStore(rec)
}

// Remove deletes a device record by id.
func (r *Registry) Remove(deviceID string) {
	r.mu.Lock()
	delete(r.devices, deviceID)
	r.mu.Unlock()

	if r.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		defer cancel()
		if err := r.mirror.Remove(ctx, deviceID); err != nil {
			r.logger.WithError(err).WithField("device", deviceID).Warn("Failed to remove device from registry mirror")
		}
	}
}

// Get returns the locally cached record for a device id.
func (r *Registry) Get(deviceID string) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[deviceID]
	return rec, ok
}

// Len returns the number of cached devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// List returns all cached device records.
func (r *Registry) List() []DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]DeviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		records = append(records, rec)
	}
	return records
}

// Lookup resolves a device id through the local cache, the mirror, and
// finally the external device-info provider. The remote call is bounded by
// the configured timeout: deadline expiry resolves to absent (fail-closed)
// with ErrLookupTimeout, and expiry and response delivery are mutually
// exclusive outcomes. A successful remote hit is cached for later checks.
func (r *Registry) Lookup(ctx context.Context, deviceID string) (DeviceRecord, bool, error) {
	if rec, ok := r.Get(deviceID); ok {
		return rec, true, nil
	}

	if r.mirror != nil {
		if rec, err := r.mirror.Load(ctx, deviceID); err != nil {
			r.logger.WithError(err).WithField("device", deviceID).Warn("Registry mirror read failed")
		} else if rec != nil {
			r.Upsert(*rec)
			return *rec, true, nil
		}
	}

	if r.provider == nil {
		return DeviceRecord{}, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type lookupResult struct {
		rec *DeviceRecord
		err error
	}
	resultCh := make(chan lookupResult, 1)
	go func() {
		rec, err := r.provider.DeviceInfo(ctx, deviceID)
		resultCh <- lookupResult{rec: rec, err: err}
	}()

	select {
	case res := <-resultCh:
		switch {
		case errors.Is(res.err, ErrDeviceNotFound):
			return DeviceRecord{}, false, nil
		case errors.Is(res.err, context.DeadlineExceeded):
			return DeviceRecord{}, false, ErrLookupTimeout
		case res.err != nil:
			return DeviceRecord{}, false, res.err
		case res.rec == nil:
			return DeviceRecord{}, false, nil
		}
		r.Upsert(*res.rec)
		return *res.rec, true, nil
	case <-ctx.Done():
		// The provider has not answered in time; the result is discarded
		// even if it arrives later.
		return DeviceRecord{}, false, ErrLookupTimeout
	}
}

func (r *Registry) mirrorStore(rec DeviceRecord) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	if err := r.mirror.Store(ctx, rec); err != nil {
		r.logger.WithError(err).WithField("device", rec.ID).Warn("Failed to store device in registry mirror")
	}
}
