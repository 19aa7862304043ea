package snapstore

import (
	"context"
	"encoding/json"
	"time"
)

// QuotaLevel grades how close snapshot storage is to the quota estimate.
// Advisory only: the store never refuses a write because of quota; callers
// decide whether to warn or block.
type QuotaLevel int

const (
	QuotaOK       QuotaLevel = iota
	QuotaNotice              // ≥ 60%
	QuotaWarning             // ≥ 75%
	QuotaCritical            // ≥ 90%
)

func (l QuotaLevel) String() string {
	switch l {
	case QuotaNotice:
		return "notice"
	case QuotaWarning:
		return "warning"
	case QuotaCritical:
		return "critical"
	default:
		return "ok"
	}
}

// Stats is a point-in-time storage accounting. Recomputed on demand rather
// than incrementally tracked, to avoid drift.
type Stats struct {
	TotalBytes    int64     `json:"total_bytes"`
	UsedBytes     int64     `json:"used_bytes"`
	LastUpdate    time.Time `json:"last_update"`
	SnapshotCount int       `json:"snapshot_count"`
	StarredCount  int       `json:"starred_count"`
	DeletedCount  int       `json:"deleted_count"`
}

// Stats recomputes storage accounting. UsedBytes is the sum of serialized
// snapshot sizes: approximate content length, not exact on-disk size.
// TotalBytes comes from the backing store's estimate when available, else
// the configured default quota.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	m, err := s.loadMap(ctx)
	if err != nil {
		return Stats{}, err
	}
	buf, err := s.loadUndo(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		TotalBytes:    s.quota,
		LastUpdate:    s.now(),
		SnapshotCount: len(m),
		DeletedCount:  len(buf),
	}
	for _, snap := range m {
		if snap.Starred {
			st.StarredCount++
		}
		if raw, err := json.Marshal(snap); err == nil {
			st.UsedBytes += int64(len(raw))
		}
	}

	if est, err := s.kv.Estimate(ctx); err == nil && est.TotalBytes > 0 {
		st.TotalBytes = est.TotalBytes
	}
	return st, nil
}

// CheckLimits grades current usage against the quota estimate at the
// 60/75/90% thresholds.
func (s *Store) CheckLimits(ctx context.Context) (QuotaLevel, Stats, error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return QuotaOK, Stats{}, err
	}
	if st.TotalBytes <= 0 {
		return QuotaOK, st, nil
	}
	ratio := float64(st.UsedBytes) / float64(st.TotalBytes)
	switch {
	case ratio >= 0.90:
		return QuotaCritical, st, nil
	case ratio >= 0.75:
		return QuotaWarning, st, nil
	case ratio >= 0.60:
		return QuotaNotice, st, nil
	default:
		return QuotaOK, st, nil
	}
}
