// Package history keeps a bounded, per-address log of recently published
// messages so late joiners and operators can inspect recent traffic.
package history

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept per address
const DefaultCapacity = 100

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrClosed is returned by operations on a closed log
	ErrClosed = errors.New("history log is closed")
)

// Entry is one published message
type Entry struct {
	Offset    int64     `json:"offset"`
	Address   string    `json:"address"`
	Args      []any     `json:"args"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Statistics provides aggregate statistics about the log
type Statistics struct {
	TotalEntries  int64            `json:"totalEntries"`
	AddressCounts map[string]int64 `json:"addressCounts"`
	AddressCount  int              `json:"addressCount"`
}

// Log is an in-memory history partitioned by exact address. Each address has
// its own offset sequence starting from 0; only the newest entries are kept.
// It is safe for concurrent use.
type Log struct {
	mu                  sync.RWMutex
	capacity            int
	entriesByAddress    map[string][]Entry
	nextOffsetByAddress map[string]int64
	closed              bool
}

// New creates a log keeping capacity entries per address
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity:            capacity,
		entriesByAddress:    make(map[string][]Entry),
		nextOffsetByAddress: make(map[string]int64),
	}
}

// Append records a message and returns it with its assigned offset
func (l *Log) Append(ctx context.Context, address string, args []any, source string) (Entry, error) {
	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	default:
	}

	copied := make([]any, len(args))
	copy(copied, args)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrClosed
	}

	entry := Entry{
		Offset:    l.nextOffsetByAddress[address],
		Address:   address,
		Args:      copied,
		Source:    source,
		Timestamp: time.Now(),
	}

	entries := append(l.entriesByAddress[address], entry)
	if len(entries) > l.capacity {
		trimmed := make([]Entry, l.capacity)
		copy(trimmed, entries[len(entries)-l.capacity:])
		entries = trimmed
	}
	l.entriesByAddress[address] = entries
	l.nextOffsetByAddress[address]++

	return entry, nil
}

// Read returns up to maxCount retained entries for address with offset >= startOffset
func (l *Log) Read(ctx context.Context, address string, startOffset int64, maxCount int) ([]Entry, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	results := make([]Entry, 0)
	for _, entry := range l.entriesByAddress[address] {
		if len(results) >= maxCount {
			break
		}
		if entry.Offset >= startOffset {
			results = append(results, entry)
		}
	}
	return results, nil
}

// EndOffset returns the offset the next append to address will get
func (l *Log) EndOffset(ctx context.Context, address string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.nextOffsetByAddress[address], nil
}

// Replay streams retained entries for address from startOffset. Both channels
// are closed when the replay ends or ctx is cancelled.
func (l *Log) Replay(ctx context.Context, address string, startOffset int64) (<-chan Entry, <-chan error) {
	entryChan := make(chan Entry)
	errChan := make(chan error, 1)

	go func() {
		defer close(entryChan)
		defer close(errChan)

		if startOffset < 0 {
			errChan <- ErrNegativeOffset
			return
		}

		l.mu.RLock()
		var toReplay []Entry
		for _, entry := range l.entriesByAddress[address] {
			if entry.Offset >= startOffset {
				toReplay = append(toReplay, entry)
			}
		}
		l.mu.RUnlock()

		for _, entry := range toReplay {
			select {
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			case entryChan <- entry:
			}
		}
	}()

	return entryChan, errChan
}

// Statistics returns the number of messages ever appended, per address
func (l *Log) Statistics(ctx context.Context) (Statistics, error) {
	select {
	case <-ctx.Done():
		return Statistics{}, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Statistics{AddressCounts: make(map[string]int64, len(l.nextOffsetByAddress))}
	for address, next := range l.nextOffsetByAddress {
		stats.AddressCounts[address] = next
		stats.TotalEntries += next
	}
	stats.AddressCount = len(stats.AddressCounts)
	return stats, nil
}

// Close clears the log. It is idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.entriesByAddress = make(map[string][]Entry)
	l.nextOffsetByAddress = make(map[string]int64)
	l.closed = true
	return nil
}
