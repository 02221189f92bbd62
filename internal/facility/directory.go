package facility

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

// ErrEmptyRefresh reports a refresh that returned no facilities.
var ErrEmptyRefresh = errors.New("facility refresh returned no facilities")

// Loader is the repository side of the directory.
type Loader interface {
	LoadFacilities(ctx context.Context) ([]models.FacilityRecord, error)
}

// Directory holds the current facility snapshot. Readers never block on
// the repository; Refresh swaps the snapshot under a write lock. Load
// adjustments made by this process are kept as an overlay on top of the
// loaded records, so a refresh does not forget them.
type Directory struct {
	mu          sync.RWMutex
	facilities  map[string]models.FacilityRecord
	loadDelta   map[string]int
	refreshedAt time.Time

	loader  Loader
	timeout time.Duration
	logger  logger.Logger
}

func NewDirectory(loader Loader, timeout time.Duration, log logger.Logger) *Directory {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Directory{
		facilities: make(map[string]models.FacilityRecord),
		loadDelta:  make(map[string]int),
		loader:     loader,
		timeout:    timeout,
		logger:     log.WithFields(map[string]interface{}{"component": "facility-directory"}),
	}
}

// Replace installs records directly, e.g. from a seed file. Pending load
// adjustments are applied on top of the incoming loads.
func (d *Directory) Replace(records []models.FacilityRecord) {
	next := make(map[string]models.FacilityRecord, len(records))
	d.mu.Lock()
	for _, r := range records {
		r = cloneRecord(r)
		r.CurrentLoad = clampLoad(r.CurrentLoad + d.loadDelta[r.ID])
		next[r.ID] = r
	}
	d.facilities = next
	d.refreshedAt = time.Now().UTC()
	d.mu.Unlock()
}

// Refresh reloads from the repository. On failure the previous snapshot is
// kept. An empty load counts as a failure once the directory holds
// facilities, since an empty directory refuses every admission.
func (d *Directory) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	records, err := d.loader.LoadFacilities(ctx)
	if err == nil && len(records) == 0 && d.Len() > 0 {
		err = ErrEmptyRefresh
	}
	if err != nil {
		d.logger.Warn("facility refresh failed, keeping previous snapshot", map[string]interface{}{
			"error":      err.Error(),
			"facilities": d.Len(),
		})
		return err
	}

	d.Replace(records)
	d.logger.Debug("facility directory refreshed", map[string]interface{}{
		"facilities": len(records),
	})
	return nil
}

// Run refreshes on every tick until ctx is cancelled.
func (d *Directory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.Refresh(ctx)
		}
	}
}

func (d *Directory) Get(id string) (models.FacilityRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.facilities[id]
	return cloneRecord(f), ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.facilities)
}

// Snapshot returns all facilities ordered by id.
func (d *Directory) Snapshot() []models.FacilityRecord {
	d.mu.RLock()
	out := make([]models.FacilityRecord, 0, len(d.facilities))
	for _, f := range d.facilities {
		out = append(out, cloneRecord(f))
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active returns active facilities ordered by id.
func (d *Directory) Active() []models.FacilityRecord {
	all := d.Snapshot()
	out := all[:0]
	for _, f := range all {
		if f.Active {
			out = append(out, f)
		}
	}
	return out
}

// AdjustLoad nudges the approximate load counter. The adjustment is
// remembered and reapplied to every later refresh.
func (d *Directory) AdjustLoad(id string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.facilities[id]
	if !ok {
		return
	}
	d.loadDelta[id] += delta
	f.CurrentLoad = clampLoad(f.CurrentLoad + delta)
	d.facilities[id] = f
}

func clampLoad(load int) int {
	if load < 0 {
		return 0
	}
	return load
}

func (d *Directory) RefreshedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refreshedAt
}

func cloneRecord(f models.FacilityRecord) models.FacilityRecord {
	if f.Specialties != nil {
		f.Specialties = append([]string(nil), f.Specialties...)
	}
	return f
}
