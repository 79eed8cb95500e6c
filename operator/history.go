package operator

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"
)

// Operations recorded in history.
const (
	OperationProve  = "prove"
	OperationVerify = "verify"
)

// maxRecordedResult bounds how much of a result is kept per record.
const maxRecordedResult = 4096

// Record is the outcome of a single prove or verify call.
type Record struct {
	ID        string        `json:"id"`
	RequestID string        `json:"requestId"`
	Operation string        `json:"operation"`
	Code      int           `json:"code"`
	Result    string        `json:"result"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
}

// truncateResult cuts result to maxRecordedResult bytes without splitting a
// multi-byte character.
func truncateResult(result string) string {
	if len(result) <= maxRecordedResult {
		return result
	}
	i := maxRecordedResult
	for i > 0 && !utf8.RuneStart(result[i]) {
		i--
	}
	return result[:i]
}

// HistoryStore persists operation records.
type HistoryStore interface {
	Record(ctx context.Context, rec Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// MemoryHistory keeps the most recent records in a fixed-size ring.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []Record
	next    int
	full    bool
}

// NewMemoryHistory creates a ring holding up to capacity records.
func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryHistory{records: make([]Record, capacity)}
}

func (m *MemoryHistory) Record(_ context.Context, rec Record) error {
	rec.Result = truncateResult(rec.Result)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.next] = rec
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *MemoryHistory) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.records)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.records)) % len(m.records)
		out = append(out, m.records[idx])
	}
	return out, nil
}

func (m *MemoryHistory) Close() error { return nil }
