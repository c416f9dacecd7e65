package gate

import "sync"

// SellerLockTable marks sellers with a transaction in flight. It guarantees at
// most one admitted transaction per seller within the process.
type SellerLockTable struct {
	mu      sync.Mutex
	holding map[string]struct{}
}

// NewSellerLockTable returns an empty table.
func NewSellerLockTable() *SellerLockTable {
	return &SellerLockTable{holding: make(map[string]struct{})}
}

// TryAcquire claims the seller's slot. It returns false when the slot is taken.
func (t *SellerLockTable) TryAcquire(sellerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.holding[sellerID]; held {
		return false
	}
	t.holding[sellerID] = struct{}{}
	return true
}

// Release frees the seller's slot. Releasing a free slot does nothing.
func (t *SellerLockTable) Release(sellerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.holding, sellerID)
}

// Held reports whether the seller currently holds a slot.
func (t *SellerLockTable) Held(sellerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, held := t.holding[sellerID]
	return held
}

// Len returns the number of sellers in flight.
func (t *SellerLockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.holding)
}
