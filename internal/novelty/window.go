// Package novelty decides whether a freshly fetched page of posts contains a
// post that has not been announced yet.
//
// The only state is a Window: the identifiers of the newest K posts seen on
// the previous fetch. It is replaced in full on every successful fetch and
// never persisted, so the first fetch after start only seeds it.
package novelty

import (
	"cmp"
	"slices"

	"github.com/qianyu-bot/qianyu/internal/source"
)

// DefaultSize is the number of identifiers a Window keeps.
const DefaultSize = 5

// Window is the newest-first record of recently seen post identifiers.
// It is not safe for concurrent use; each poller owns its own.
type Window struct {
	size int
	ids  []string
}

// NewWindow creates an empty window holding at most size identifiers.
// A size below 1 falls back to DefaultSize.
func NewWindow(size int) *Window {
	if size < 1 {
		size = DefaultSize
	}
	return &Window{size: size}
}

// Size returns the capacity K.
func (w *Window) Size() int {
	return w.size
}

// Len returns the number of identifiers currently held.
func (w *Window) Len() int {
	return len(w.ids)
}

// Contains reports whether id is in the window.
func (w *Window) Contains(id string) bool {
	return slices.Contains(w.ids, id)
}

// IDs returns a copy of the held identifiers, newest first.
func (w *Window) IDs() []string {
	return slices.Clone(w.ids)
}

// Replace sorts batch by publish time descending, keeps the top K, and makes
// them the new window. Posts with equal timestamps keep their fetch order.
// The previous contents are discarded, not merged.
func (w *Window) Replace(batch []source.Post) {
	sorted := slices.Clone(batch)
	slices.SortStableFunc(sorted, func(a, b source.Post) int {
		return cmp.Compare(b.Published, a.Published)
	})

	n := min(w.size, len(sorted))
	ids := make([]string, 0, n)
	for _, p := range sorted[:n] {
		ids = append(ids, p.ID)
	}
	w.ids = ids
}
