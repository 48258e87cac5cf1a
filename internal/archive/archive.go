// Package archive writes the daily audit snapshot of SOS requests that reached a terminal
// state, with their full status history, to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ResQFlow/internal/models"
	"ResQFlow/pkg/storage"

	"go.uber.org/zap"
)

const KeyPrefix = "sos-audit"

// Source lists requests that became terminal in [from, to). *sos.Service satisfies it.
type Source interface {
	TerminalBetween(ctx context.Context, from, to time.Time) ([]models.SOSRequest, error)
}

// Snapshot is the archived document for one day.
type Snapshot struct {
	Date        string              `json:"date"`
	GeneratedAt time.Time           `json:"generatedAt"`
	Count       int                 `json:"count"`
	Requests    []models.SOSRequest `json:"requests"`
}

type Archiver struct {
	src   Source
	store storage.Store
	loc   *time.Location
	log   *zap.Logger
	now   func() time.Time
}

func New(src Source, store storage.Store, loc *time.Location, log *zap.Logger, now func() time.Time) *Archiver {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Archiver{src: src, store: store, loc: loc, log: log, now: now}
}

// Key is the object key for the day containing day.
func Key(day time.Time) string {
	return fmt.Sprintf("%s/%s.json", KeyPrefix, day.Format("2006/01/02"))
}

// Run archives yesterday. It is the scheduled entry point.
func (a *Archiver) Run(ctx context.Context) error {
	_, err := a.ArchiveDay(ctx, a.now().In(a.loc).AddDate(0, 0, -1), false)
	return err
}

// ArchiveDay writes the snapshot for day unless one already exists and force is false. It
// reports whether an object was written.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time, force bool) (bool, error) {
	day = day.In(a.loc)
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, a.loc)
	to := from.AddDate(0, 0, 1)
	key := Key(from)

	if !force {
		exists, err := a.store.Exists(ctx, key)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", key, err)
		}
		if exists {
			a.log.Debug("audit snapshot exists", zap.String("key", key))
			return false, nil
		}
	}

	reqs, err := a.src.TerminalBetween(ctx, from, to)
	if err != nil {
		return false, fmt.Errorf("load terminal requests: %w", err)
	}
	if reqs == nil {
		reqs = []models.SOSRequest{}
	}
	snap := Snapshot{
		Date:        from.Format("2006-01-02"),
		GeneratedAt: a.now().UTC(),
		Count:       len(reqs),
		Requests:    reqs,
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return false, err
	}
	if err := a.store.Write(ctx, key, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return false, fmt.Errorf("write %s: %w", key, err)
	}
	a.log.Info("audit snapshot written",
		zap.String("key", key),
		zap.Int("requests", len(reqs)),
		zap.Int("bytes", len(payload)))
	return true, nil
}
