// Package deadletter persists dead letters locally when the dead-letter
// topic itself is unreachable. Entries append to size-capped JSONL segments
// and replay in order once an operator or the producer recovers them.
package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	segmentPrefix = "deadletter-"
	filePerm      = 0644
)

// Entry is one dead-lettered record. Value holds the record bytes verbatim;
// JSON encodes it as base64 so poison bytes survive the round trip.
type Entry struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key,omitempty"`
	Value     []byte    `json:"value"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

// Journal is a file-backed dead-letter store.
type Journal struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
}

// NewJournal opens (or creates) the journal under dir.
func NewJournal(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory %s: %w", dir, err)
	}

	j := &Journal{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "deadletter_journal"),
	}

	if err := j.openLatestSegment(); err != nil {
		return nil, err
	}

	return j, nil
}

// Append writes one entry to the current segment. It fails when the journal
// has reached its disk budget; callers must then withhold the offset so the
// record redelivers instead of vanishing.
func (j *Journal) Append(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	data = append(data, '\n')

	if j.currentSegment == nil {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	totalSize, err := j.totalSize()
	if err != nil {
		return fmt.Errorf("could not verify journal disk usage: %w", err)
	}
	if totalSize+int64(len(data)) > j.maxTotalSize {
		return fmt.Errorf("dead-letter journal full (%d of %d bytes)", totalSize, j.maxTotalSize)
	}

	n, err := j.currentSegment.Write(data)
	if err != nil {
		return fmt.Errorf("write dead-letter entry: %w", err)
	}
	j.currentSize += int64(n)

	if j.currentSize >= j.maxSegmentSize {
		if err := j.rotate(); err != nil {
			j.logger.Error("failed to rotate journal segment", "error", err)
		}
	}

	return nil
}

// Replay feeds every journaled entry, oldest first, to handler. A handler
// error stops the replay so nothing is skipped.
func (j *Journal) Replay(ctx context.Context, handler func(entry Entry) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.replayLocked(ctx, handler)
}

// replayLocked is Replay's body; the caller holds mu. It leaves
// currentSegment closed.
func (j *Journal) replayLocked(ctx context.Context, handler func(entry Entry) error) error {
	if j.currentSegment != nil {
		j.currentSegment.Close()
		j.currentSegment = nil
	}

	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	j.logger.Info("replaying dead-letter journal", "segment_count", len(segments))

	for _, path := range segments {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open segment %s for replay: %w", path, err)
		}

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if ctx.Err() != nil {
				file.Close()
				return ctx.Err()
			}
			var entry Entry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				j.logger.Warn("skipping corrupt journal line", "error", err)
				continue
			}
			if err := handler(entry); err != nil {
				file.Close()
				return fmt.Errorf("replay handler failed: %w", err)
			}
		}
		if err := scanner.Err(); err != nil {
			file.Close()
			return fmt.Errorf("scan segment %s: %w", path, err)
		}
		file.Close()
	}

	j.logger.Info("dead-letter journal replay completed")
	return nil
}

// Truncate removes all journal segments, typically after a full replay.
func (j *Journal) Truncate(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentSegment != nil {
		j.currentSegment.Close()
		j.currentSegment = nil
	}

	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := os.Remove(path); err != nil {
			j.logger.Error("failed to remove journal segment", "path", path, "error", err)
		}
	}

	return j.openLatestSegment()
}

// Len reports how many entries are currently journaled. The lock is held
// from the count through to the reopen, so a concurrent Append can never
// slip in while the active segment is closed.
func (j *Journal) Len(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	count := 0
	err := j.replayLocked(ctx, func(Entry) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := j.openLatestSegment(); err != nil {
		return count, err
	}
	return count, nil
}

// Close flushes and closes the active segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.currentSegment != nil {
		return j.currentSegment.Close()
	}
	return nil
}

func (j *Journal) rotate() error {
	if j.currentSegment != nil {
		if err := j.currentSegment.Sync(); err != nil {
			j.logger.Error("failed to sync journal segment before rotating", "error", err)
		}
		if err := j.currentSegment.Close(); err != nil {
			j.logger.Error("failed to close journal segment before rotating", "error", err)
		}
		j.currentSegment = nil
	}

	name := fmt.Sprintf("%s%d.jsonl", segmentPrefix, time.Now().UnixNano())
	path := filepath.Join(j.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("create journal segment %s: %w", path, err)
	}

	j.currentSegment = f
	j.currentSize = 0
	return nil
}

func (j *Journal) openLatestSegment() error {
	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return j.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("stat segment %s: %w", latest, err)
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", latest, err)
	}

	j.currentSegment = f
	j.currentSize = stat.Size()

	if j.currentSize >= j.maxSegmentSize {
		return j.rotate()
	}
	return nil
}

func (j *Journal) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("read journal directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			segments = append(segments, filepath.Join(j.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (j *Journal) totalSize() (int64, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			info, err := entry.Info()
			if err != nil {
				return 0, err
			}
			total += info.Size()
		}
	}
	return total, nil
}
