package novelty

import "github.com/qianyu-bot/qianyu/internal/source"

// Detect reports the newest post of batch if it was not in w, then refreshes
// w from batch.
//
// An empty batch leaves w untouched and reports nothing. While w is empty
// (cold start) nothing is reported either: the batch only seeds the window.
// When several posts share the newest timestamp the first one in batch order
// wins.
func Detect(batch []source.Post, w *Window) (source.Post, bool) {
	if len(batch) == 0 {
		return source.Post{}, false
	}

	selected := Newest(batch)
	novel := w.Len() > 0 && !w.Contains(selected.ID)

	w.Replace(batch)

	if !novel {
		return source.Post{}, false
	}
	return selected, true
}

// Newest returns the post with the greatest publish time, ties broken by
// first occurrence. batch must not be empty.
func Newest(batch []source.Post) source.Post {
	best := 0
	for i := 1; i < len(batch); i++ {
		if batch[i].Published > batch[best].Published {
			best = i
		}
	}
	return batch[best]
}
