package ledger

import (
	"iter"
	"time"

	"BetSentinel/internal/model"
)

// Order is the traversal direction of ListBets.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Filter selects bets in ListBets. Zero values match everything.
type Filter struct {
	TipsterID   *int64
	SelfOnly    bool
	Competition string
	BetType     string
	Outcomes    []model.Outcome
	From        time.Time // inclusive
	To          time.Time // exclusive
	Limit       int
}

func (f *Filter) match(b *model.Bet) bool {
	if f.SelfOnly && b.TipsterID != nil {
		return false
	}
	if f.TipsterID != nil && (b.TipsterID == nil || *b.TipsterID != *f.TipsterID) {
		return false
	}
	if f.Competition != "" && b.Competition != f.Competition {
		return false
	}
	if f.BetType != "" && b.BetType != f.BetType {
		return false
	}
	if len(f.Outcomes) > 0 {
		found := false
		for _, o := range f.Outcomes {
			if b.Outcome == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && b.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !b.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// ListBets returns a lazy sequence of bets ordered by timestamp then id.
// Each iteration starts from a fresh view of the ledger, so the sequence can be
// ranged over any number of times. It never mutates ledger state.
func (l *Ledger) ListBets(filter Filter, order Order) iter.Seq[model.Bet] {
	return func(yield func(model.Bet) bool) {
		view := l.orderedView()
		n := 0
		for i := range view {
			b := view[i]
			if order == Descending {
				b = view[len(view)-1-i]
			}
			if !filter.match(b) {
				continue
			}
			if !yield(*b) {
				return
			}
			n++
			if filter.Limit > 0 && n >= filter.Limit {
				return
			}
		}
	}
}

// orderedView copies the ordered pointer index. Bet values are never mutated in
// place, so the returned pointers stay valid without holding the lock.
func (l *Ledger) orderedView() []*model.Bet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	view := make([]*model.Bet, len(l.ordered))
	copy(view, l.ordered)
	return view
}

// RecentBets returns, in ascending order, at most n of the latest bets placed at or after since.
func (l *Ledger) RecentBets(since time.Time, n int) []model.Bet {
	view := l.orderedView()
	out := make([]model.Bet, 0, n)
	for i := len(view) - 1; i >= 0 && len(out) < n; i-- {
		if view[i].Timestamp.Before(since) {
			break
		}
		out = append(out, *view[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Bet returns the current value of a bet.
func (l *Ledger) Bet(id int64) (model.Bet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bets[id]
	if !ok {
		return model.Bet{}, betNotFound(id)
	}
	return *b, nil
}

// Movements returns a copy of the movement log in sequence order.
func (l *Ledger) Movements() []model.Movement {
	return l.MovementsFrom(0)
}

// MovementsFrom returns a copy of movements with Seq >= seq.
func (l *Ledger) MovementsFrom(seq int64) []model.Movement {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(l.movements)) {
		return nil
	}
	out := make([]model.Movement, len(l.movements)-int(seq))
	copy(out, l.movements[seq:])
	return out
}

// MovementsSince returns movements dated at or after t.
func (l *Ledger) MovementsSince(t time.Time) []model.Movement {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Movement
	for i := len(l.movements) - 1; i >= 0; i-- {
		if l.movements[i].Date.Before(t) {
			break
		}
		out = append(out, l.movements[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Tipster returns a registered tipster.
func (l *Ledger) Tipster(id int64) (model.Tipster, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tipsters[id]
	if !ok {
		return model.Tipster{}, tipsterNotFound(id)
	}
	return *t, nil
}

// Tipsters returns all registered tipsters in registration order.
func (l *Ledger) Tipsters() []model.Tipster {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Tipster, 0, len(l.tipsterOrder))
	for _, id := range l.tipsterOrder {
		out = append(out, *l.tipsters[id])
	}
	return out
}

// Snapshot is a frozen copy of the ledger.
type Snapshot struct {
	Version   uint64
	TakenAt   time.Time
	Tipsters  []model.Tipster
	Bets      []model.Bet
	Movements []model.Movement
}

// Snapshot copies the whole ledger. Later writes do not affect the copy.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Snapshot{
		Version:   l.version,
		TakenAt:   l.now(),
		Bets:      make([]model.Bet, len(l.ordered)),
		Movements: make([]model.Movement, len(l.movements)),
	}
	for i, b := range l.ordered {
		s.Bets[i] = *b
	}
	copy(s.Movements, l.movements)
	for _, id := range l.tipsterOrder {
		s.Tipsters = append(s.Tipsters, *l.tipsters[id])
	}
	return s
}

// WithSnapshot calls fn with a snapshot while holding the write lock, so no
// write commits or is delivered to subscribers until fn returns. fn must not
// write to the ledger.
func (l *Ledger) WithSnapshot(fn func(Snapshot)) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	fn(l.Snapshot())
}

// LedgerExport is the read-only bulk view handed to report exporters.
type LedgerExport struct {
	From      time.Time
	To        time.Time
	Bets      []model.Bet
	Movements []model.Movement
	Opening   model.Movement // last movement before From, the balance carried into the range
}

// ExportRange copies bets placed and movements dated in [from, to).
func (l *Ledger) ExportRange(from, to time.Time) LedgerExport {
	out := LedgerExport{From: from, To: to}
	for b := range l.ListBets(Filter{From: from, To: to}, Ascending) {
		out.Bets = append(out.Bets, b)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.movements {
		if m.Date.Before(from) {
			out.Opening = m
			continue
		}
		if !to.IsZero() && !m.Date.Before(to) {
			break
		}
		out.Movements = append(out.Movements, m)
	}
	return out
}
