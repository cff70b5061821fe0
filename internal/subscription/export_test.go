package subscription

import "time"

// SetLastActivityForTest backdates sessionID's lastActivity. It exists so
// tests can exercise the liveness boundary (spec §8 invariant 3) without
// sleeping real wall-clock time. Exported only to _test.go files: this file
// is excluded from production builds.
func (idx *Index) SetLastActivityForTest(sessionID string, lastActivity time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if r, ok := idx.bySession[sessionID]; ok {
		r.lastActivity = lastActivity
	}
}
