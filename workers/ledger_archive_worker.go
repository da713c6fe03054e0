// workers/ledger_archive_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"run-rewards-service/services"
)

// LedgerArchiveWorker exports the previous day's ledger entries to object
// storage once per day. The database ledger remains the source of truth; the
// archives are cold audit copies that survive a database loss.
type LedgerArchiveWorker struct {
	ledger *services.LedgerService
	upload func(data []byte, key, contentType string) (string, error)
}

func NewLedgerArchiveWorker(ledger *services.LedgerService, upload func(data []byte, key, contentType string) (string, error)) *LedgerArchiveWorker {
	return &LedgerArchiveWorker{ledger: ledger, upload: upload}
}

func (w *LedgerArchiveWorker) Start(ctx context.Context) {
	log.Println("🗄️ Starting Ledger Archive Worker (daily export → R2)…")
	go w.run(ctx)
}

func (w *LedgerArchiveWorker) run(ctx context.Context) {
	for {
		next := nextArchiveTime(time.Now())
		select {
		case <-ctx.Done():
			log.Println("⏹️ Ledger Archive Worker stopped")
			return
		case <-time.After(time.Until(next)):
			if err := w.ArchiveDay(time.Now().AddDate(0, 0, -1)); err != nil {
				log.Printf("❌ Ledger archive failed: %v", err)
			}
		}
	}
}

// nextArchiveTime returns the next 00:30 boundary in the reward timezone,
// giving the midnight jobs a head start before we snapshot yesterday.
func nextArchiveTime(now time.Time) time.Time {
	loc := services.RewardTimeLocation
	n := now.In(loc)
	next := time.Date(n.Year(), n.Month(), n.Day(), 0, 30, 0, 0, loc)
	if !next.After(n) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ArchiveDay exports one calendar day of ledger entries as a JSON object.
func (w *LedgerArchiveWorker) ArchiveDay(day time.Time) error {
	entries, err := w.ledger.EntriesForDay(day)
	if err != nil {
		return fmt.Errorf("failed to load ledger entries: %w", err)
	}
	if len(entries) == 0 {
		log.Printf("[ARCHIVE] No ledger entries for %s, skipping export", services.DayString(day))
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"day":     services.DayString(day),
		"count":   len(entries),
		"entries": entries,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}

	key := fmt.Sprintf("ledger-archives/%s.json", services.DayString(day))
	url, err := w.upload(payload, key, "application/json")
	if err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	log.Printf("[ARCHIVE] ✅ Exported %d ledger entries for %s → %s", len(entries), services.DayString(day), url)
	return nil
}
