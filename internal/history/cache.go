package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"NetBlueprint/internal/metrics"
	"NetBlueprint/internal/model"
)

const dayFormat = "2006-01-02"

// Fetcher is the upstream history API the cache fills itself from.
type Fetcher interface {
	History(ctx context.Context, itemID string, from, till time.Time) ([]model.HistorySample, error)
}

// DiskCache stores one JSON file per (item, calendar day). Past days
// are fetched once and never refetched; the current day is refetched
// on every ensure call because its bucket cannot be final yet.
type DiskCache struct {
	dir           string
	retentionDays int
	fetch         Fetcher
	group         singleflight.Group
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(dir string, retentionDays int, f Fetcher) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history cache dir: %w", err)
	}
	return &DiskCache{dir: dir, retentionDays: retentionDays, fetch: f}, nil
}

// EnsureRange fills the cache for every day in [from, till]. Days whose
// fetch fails are logged and left absent; ReadRange surfaces them as
// missing. Each call ends with a retention eviction sweep. Only context
// cancellation aborts the walk.
func (c *DiskCache) EnsureRange(ctx context.Context, itemID string, from, till time.Time) error {
	today := dayOf(time.Now())
	for _, day := range daysBetween(from, till) {
		if day > today {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if day != today {
			if b, err := c.readBucket(itemID, day); err == nil && b.Final {
				metrics.HistoryCacheHits.Inc()
				continue
			}
		}
		if err := c.fetchDay(ctx, itemID, day, today); err != nil {
			log.Printf("history: fetch failed for item %s day %s: %v", itemID, day, err)
			metrics.HistoryFetchTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.HistoryFetchTotal.WithLabelValues("ok").Inc()
	}
	c.evict(till)
	return nil
}

// fetchDay pulls one day from upstream and persists it. Concurrent
// calls for the same (item, day) coalesce into a single upstream fetch.
func (c *DiskCache) fetchDay(ctx context.Context, itemID, day, today string) error {
	key := itemID + "/" + day
	_, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a caller that raced with a
		// completed fetch must not refetch a now-final bucket.
		if day != today {
			if b, err := c.readBucket(itemID, day); err == nil && b.Final {
				return nil, nil
			}
		}
		start, err := time.ParseInLocation(dayFormat, day, time.UTC)
		if err != nil {
			return nil, err
		}
		end := start.Add(24*time.Hour - time.Second)
		samples, err := c.fetch.History(ctx, itemID, start, end)
		if err != nil {
			return nil, err
		}
		bucket := model.DayBucket{
			ItemID:    itemID,
			Day:       day,
			FetchedAt: time.Now().UTC(),
			Final:     day != today,
			Samples:   samples,
		}
		return nil, c.writeBucket(bucket)
	})
	return err
}

// ReadRange concatenates the cached buckets of [from, till] in day
// order, filtered to the exact time bounds. Days without a readable
// bucket are returned as missing, never silently skipped.
func (c *DiskCache) ReadRange(itemID string, from, till time.Time) ([]model.HistorySample, []string) {
	today := dayOf(time.Now())
	fromUnix, tillUnix := from.Unix(), till.Unix()

	var samples []model.HistorySample
	var missing []string
	for _, day := range daysBetween(from, till) {
		if day > today {
			continue
		}
		b, err := c.readBucket(itemID, day)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("history: unreadable bucket for item %s day %s: %v", itemID, day, err)
			}
			missing = append(missing, day)
			continue
		}
		for _, s := range b.Samples {
			if s.Clock < fromUnix || s.Clock > tillUnix {
				continue
			}
			samples = append(samples, s)
		}
	}
	return samples, missing
}

func (c *DiskCache) readBucket(itemID, day string) (model.DayBucket, error) {
	data, err := os.ReadFile(c.bucketPath(itemID, day))
	if err != nil {
		return model.DayBucket{}, err
	}
	var b model.DayBucket
	if err := json.Unmarshal(data, &b); err != nil {
		return model.DayBucket{}, fmt.Errorf("corrupt bucket for item %s day %s: %w", itemID, day, err)
	}
	return b, nil
}

// writeBucket persists a bucket with write-temp-then-rename so readers
// never observe a half-written file.
func (c *DiskCache) writeBucket(b model.DayBucket) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal bucket: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "bucket-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp bucket: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write bucket: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close bucket: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.bucketPath(b.ItemID, b.Day)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish bucket: %w", err)
	}
	return nil
}

// evict removes buckets older than the retention window ending at till.
func (c *DiskCache) evict(till time.Time) {
	cutoff := dayOf(till.AddDate(0, 0, -c.retentionDays))
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		log.Printf("history: eviction sweep failed: %v", err)
		return
	}
	for _, e := range entries {
		day, ok := bucketDay(e.Name())
		if !ok || day >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			log.Printf("history: failed to evict %s: %v", e.Name(), err)
			continue
		}
		metrics.HistoryEvictions.Inc()
	}
}

func (c *DiskCache) bucketPath(itemID, day string) string {
	return filepath.Join(c.dir, fmt.Sprintf("history_%s_%s.json", sanitize(itemID), day))
}

// bucketDay extracts the day from a bucket file name, rejecting foreign
// files so the sweep never deletes anything it does not own.
func bucketDay(name string) (string, bool) {
	if !strings.HasPrefix(name, "history_") || !strings.HasSuffix(name, ".json") {
		return "", false
	}
	base := strings.TrimSuffix(name, ".json")
	i := strings.LastIndex(base, "_")
	if i < 0 {
		return "", false
	}
	day := base[i+1:]
	if _, err := time.Parse(dayFormat, day); err != nil {
		return "", false
	}
	return day, true
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, s)
}

func dayOf(t time.Time) string {
	return t.UTC().Format(dayFormat)
}

// daysBetween enumerates the UTC calendar days touched by [from, till].
func daysBetween(from, till time.Time) []string {
	var days []string
	d := from.UTC().Truncate(24 * time.Hour)
	end := till.UTC().Truncate(24 * time.Hour)
	for !d.After(end) {
		days = append(days, d.Format(dayFormat))
		d = d.Add(24 * time.Hour)
	}
	return days
}
