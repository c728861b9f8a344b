package novelty

import (
	"slices"
	"testing"

	"github.com/qianyu-bot/qianyu/internal/source"
)

func TestNewWindow_DefaultSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		if got := NewWindow(size).Size(); got != DefaultSize {
			t.Errorf("NewWindow(%d).Size() = %d, want %d", size, got, DefaultSize)
		}
	}
	if got := NewWindow(8).Size(); got != 8 {
		t.Errorf("Size() = %d, want 8", got)
	}
}

func TestWindow_ReplaceKeepsTopK(t *testing.T) {
	w := NewWindow(5)
	var batch []source.Post
	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		batch = append(batch, post(id, int64(i*10)))
	}

	w.Replace(batch)

	if got := w.IDs(); !slices.Equal(got, []string{"g", "f", "e", "d", "c"}) {
		t.Errorf("window = %v, want [g f e d c]", got)
	}
	if w.Contains("a") {
		t.Error("oldest post should have been dropped")
	}
}

func TestWindow_ReplaceDiscardsPrevious(t *testing.T) {
	w := NewWindow(5)
	w.Replace([]source.Post{post("a", 1), post("b", 2)})
	w.Replace([]source.Post{post("c", 3)})

	if w.Len() != 1 || !w.Contains("c") || w.Contains("a") {
		t.Errorf("window = %v, want [c]", w.IDs())
	}
}

func TestWindow_ReplaceDoesNotReorderInput(t *testing.T) {
	w := NewWindow(5)
	batch := []source.Post{post("a", 1), post("b", 2)}
	w.Replace(batch)

	if batch[0].ID != "a" || batch[1].ID != "b" {
		t.Errorf("input reordered: %v", batch)
	}
}

func TestWindow_IDsIsCopy(t *testing.T) {
	w := NewWindow(5)
	w.Replace([]source.Post{post("a", 1)})

	ids := w.IDs()
	ids[0] = "mutated"
	if !w.Contains("a") {
		t.Error("mutating IDs() result changed the window")
	}
}
