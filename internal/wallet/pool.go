// internal/wallet/pool.go
package wallet

import (
	"fmt"
	"sync"
)

// Entry is one rotation wallet plus the set of token mints it has already
// traded in the current rotation epoch.
type Entry struct {
	ID     string
	Wallet *Wallet

	used map[string]struct{}
}

// UsedFor reports whether the entry was already used for the given token
// in the current epoch.
func (e *Entry) UsedFor(tokenAddr string) bool {
	_, ok := e.used[tokenAddr]
	return ok
}

// Pool holds the fixed collection of reusable signer wallets. The mutex
// protects map integrity only: allocation and marking remain two separate
// steps, so cycles of different tokens racing between them may still pick
// overlapping wallets. That degrades rotation, not correctness.
type Pool struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewPool builds a pool from base58 private keys. Used-token state can be
// restored afterwards with Restore.
func NewPool(keys []string) (*Pool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("wallet pool is empty")
	}

	entries := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		w, err := New(key)
		if err != nil {
			return nil, fmt.Errorf("wallet pool key: %w", err)
		}
		entries = append(entries, &Entry{
			ID:     w.PublicKey.String(),
			Wallet: w,
			used:   make(map[string]struct{}),
		})
	}
	return &Pool{entries: entries}, nil
}

// Size returns the number of wallets in the pool.
func (p *Pool) Size() int {
	return len(p.entries)
}

// Entries returns the pool members in their stable order. The slice is a
// copy; the entries are shared.
func (p *Pool) Entries() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Restore marks the entry with the given id as used for the listed tokens.
// Unknown ids are ignored.
func (p *Pool) Restore(id string, tokens []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.ID != id {
			continue
		}
		for _, t := range tokens {
			e.used[t] = struct{}{}
		}
		return
	}
}

// Allocate returns up to count entries not yet used for tokenAddr, scanning
// the pool in its stable order. If the scan exhausts the pool before count
// is satisfied, every entry's used-set is cleared once and the scan restarts.
// A second reset never happens within one call, so the result is short only
// when the pool itself has fewer than count members. The second return value
// reports whether an epoch reset occurred.
//
// Callers are responsible for marking the returned entries used and
// persisting both the marks and the reset.
func (p *Pool) Allocate(tokenAddr string, count int) ([]*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	picked := p.scan(tokenAddr, count, nil)
	if len(picked) >= count {
		return picked, false
	}

	// Epoch exhausted: clear every used-set and finish the allocation.
	for _, e := range p.entries {
		e.used = make(map[string]struct{})
	}
	picked = p.scan(tokenAddr, count, picked)
	return picked, true
}

func (p *Pool) scan(tokenAddr string, count int, picked []*Entry) []*Entry {
	for _, e := range p.entries {
		if len(picked) >= count {
			break
		}
		if _, usedHere := e.used[tokenAddr]; usedHere {
			continue
		}
		if containsEntry(picked, e) {
			continue
		}
		picked = append(picked, e)
	}
	return picked
}

func containsEntry(entries []*Entry, target *Entry) bool {
	for _, e := range entries {
		if e == target {
			return true
		}
	}
	return false
}

// MarkUsed records tokenAddr in the entry's used-set for the current epoch.
func (p *Pool) MarkUsed(e *Entry, tokenAddr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.used[tokenAddr] = struct{}{}
}
