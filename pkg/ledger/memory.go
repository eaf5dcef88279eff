package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps the chain in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	byTx    map[string]int
	head    string
	clock   func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byTx:  make(map[string]int),
		head:  GenesisHash,
		clock: time.Now,
	}
}

// WithClock overrides clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

func (l *MemoryLedger) Append(_ context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byTx[e.TxID]; ok {
		return Entry{}, ErrDuplicate
	}
	sealed, err := seal(e, uint64(len(l.entries))+1, l.head, l.clock())
	if err != nil {
		return Entry{}, err
	}
	l.byTx[sealed.TxID] = len(l.entries)
	l.entries = append(l.entries, sealed)
	l.head = sealed.ContentHash
	return sealed, nil
}

func (l *MemoryLedger) Get(_ context.Context, seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, ErrNotFound
	}
	return l.entries[seq-1], nil
}

func (l *MemoryLedger) GetByTxID(_ context.Context, txID string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.byTx[txID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return l.entries[i], nil
}

func (l *MemoryLedger) List(_ context.Context) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (l *MemoryLedger) Head(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head, nil
}

func (l *MemoryLedger) Verify(ctx context.Context) error {
	entries, err := l.List(ctx)
	if err != nil {
		return err
	}
	return VerifyChain(entries)
}
