// Package report implements the deduplicated, scope-keyed report ledger.
// Reports accumulate in process memory per (reported user, scope); when the
// distinct-reporter count reaches the threshold the ledger asks the ban
// authority for an automatic ban and consumes the batch. Per-key locking
// keeps check+insert and ban+clear each a single unit under concurrency.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/parley/chat-server/internal/errs"
	"github.com/parley/chat-server/internal/kmutex"
	"github.com/parley/chat-server/internal/moderation"
)

// DefaultThreshold is the distinct-reporter count that triggers an
// automatic ban.
const DefaultThreshold = 3

// Banner is the ban-authority slice the ledger consumes.
type Banner interface {
	AutoBan(ctx context.Context, targetID string, scope moderation.Scope, reporterIDs []string) (*moderation.Ban, error)
}

// Events receives report notifications. Publication is fire-and-forget.
type Events interface {
	ReportFiled(r *moderation.Report, count int, autoBanned bool)
}

// Outcome is the result of a successful report call, returned so callers
// can show progress ("2 of 3 reports").
type Outcome struct {
	Count      int  // distinct reporters for the key after this report
	AutoBanned bool // whether this report triggered the automatic ban
}

// Ledger accumulates reports keyed by (reported user, scope). The keyed
// lock serializes the whole report flow per key; the map mutex only guards
// access to the shared entries map across keys.
type Ledger struct {
	threshold int
	banner    Banner
	events    Events
	locks     *kmutex.KeyedMutex

	mu      sync.Mutex
	entries map[string]map[string]moderation.Report

	now func() time.Time
}

// NewLedger creates a ledger with the given auto-ban threshold; values
// below 1 fall back to DefaultThreshold. events may be nil.
func NewLedger(threshold int, banner Banner, events Events) *Ledger {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Ledger{
		threshold: threshold,
		banner:    banner,
		events:    events,
		locks:     kmutex.New(),
		entries:   make(map[string]map[string]moderation.Report),
		now:       time.Now,
	}
}

func key(reportedID string, scope moderation.Scope) string {
	return reportedID + "|" + scope.String()
}

// snapshot returns a copy of the reporter set for k.
func (l *Ledger) snapshot(k string) map[string]moderation.Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]moderation.Report, len(l.entries[k]))
	for id, r := range l.entries[k] {
		out[id] = r
	}
	return out
}

func (l *Ledger) put(k string, r moderation.Report) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.entries[k]
	if set == nil {
		set = make(map[string]moderation.Report)
		l.entries[k] = set
	}
	set[r.ReporterID] = r
	return len(set)
}

func (l *Ledger) remove(k, reporterID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries[k], reporterID)
	if len(l.entries[k]) == 0 {
		delete(l.entries, k)
	}
}

func (l *Ledger) clear(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, k)
}

// Report files one report of reportedID by reporterID within scope.
// Self-reports fail with ErrInvalidRequest; a second report for the same
// (reporter, reported, scope) tuple fails with ErrConflict. Reaching the
// threshold creates exactly one automatic ban carrying all contributing
// reporter ids and clears the batch as part of the same unit.
func (l *Ledger) Report(ctx context.Context, reportedID, reporterID string, scope moderation.Scope) (Outcome, error) {
	if reportedID == reporterID {
		return Outcome{}, fmt.Errorf("report: user %s cannot report themselves: %w", reporterID, errs.ErrInvalidRequest)
	}

	k := key(reportedID, scope)
	l.locks.Lock(k)
	defer l.locks.Unlock(k)

	if _, dup := l.snapshot(k)[reporterID]; dup {
		return Outcome{}, fmt.Errorf("report: %s already reported %s in scope %s: %w",
			reporterID, reportedID, scope, errs.ErrConflict)
	}

	r := moderation.Report{
		ReporterID: reporterID,
		ReportedID: reportedID,
		Scope:      scope,
		CreatedAt:  l.now(),
	}
	count := l.put(k, r)

	autoBanned := false
	if count >= l.threshold {
		batch := l.snapshot(k)
		ids := make([]string, 0, len(batch))
		for id := range batch {
			ids = append(ids, id)
		}
		_, err := l.banner.AutoBan(ctx, reportedID, scope, ids)
		switch {
		case err == nil:
			autoBanned = true
		case errors.Is(err, errs.ErrConflict):
			// An active ban already covers the scope; the moderation outcome
			// the batch was driving at exists, so the batch is still spent.
			log.Printf("report: threshold met for user=%s scope=%s but ban already active", reportedID, scope)
		default:
			// Keep the batch minus this report: the ban never happened, so
			// the reports that justified it must not be lost.
			l.remove(k, reporterID)
			return Outcome{}, err
		}
		l.clear(k)
	}

	log.Printf("report: user=%s scope=%s by=%s count=%d/%d auto_banned=%v",
		reportedID, scope, reporterID, count, l.threshold, autoBanned)
	if l.events != nil {
		l.events.ReportFiled(&r, count, autoBanned)
	}
	return Outcome{Count: count, AutoBanned: autoBanned}, nil
}

// Count returns the current distinct-reporter count for (reportedID, scope).
func (l *Ledger) Count(reportedID string, scope moderation.Scope) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[key(reportedID, scope)])
}

// Threshold returns the configured auto-ban threshold.
func (l *Ledger) Threshold() int {
	return l.threshold
}
