package publisher

// Queue is the ordered set of pairs eligible for planning.
// A pair appears at most once. Queue is not safe for concurrent use;
// Service guards it.
type Queue struct {
	items []Pair
}

func (q *Queue) Len() int { return len(q.items) }

// Items returns a copy in queue order.
func (q *Queue) Items() []Pair {
	return append([]Pair(nil), q.items...)
}

// Replace sets the contents, dropping duplicates while keeping first occurrence.
func (q *Queue) Replace(pairs []Pair) {
	seen := make(map[Pair]struct{}, len(pairs))
	items := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		items = append(items, p)
	}
	q.items = items
}

func (q *Queue) Clear() { q.items = nil }

func (q *Queue) Contains(p Pair) bool {
	for _, it := range q.items {
		if it == p {
			return true
		}
	}
	return false
}

// Remove drops the first entry equal to p and reports whether one was found.
func (q *Queue) Remove(p Pair) bool {
	for i, it := range q.items {
		if it == p {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Retain keeps only pairs for which keep returns true and returns how many were dropped.
func (q *Queue) Retain(keep func(Pair) bool) int {
	kept := q.items[:0:0]
	for _, it := range q.items {
		if keep(it) {
			kept = append(kept, it)
		}
	}
	dropped := len(q.items) - len(kept)
	q.items = kept
	return dropped
}

// First returns the head of the queue.
func (q *Queue) First() (Pair, bool) {
	if len(q.items) == 0 {
		return Pair{}, false
	}
	return q.items[0], true
}
