package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
)

// EventKind names a committed ledger change.
type EventKind string

const (
	EventTipsterRegistered EventKind = "tipster_registered"
	EventBetRecorded       EventKind = "bet_recorded"
	EventBetSettled        EventKind = "bet_settled"
	EventMovementAppended  EventKind = "movement_appended"
	EventBalancesRepaired  EventKind = "balances_repaired"
)

// Event is delivered to subscribers after the change is committed.
type Event struct {
	Kind     EventKind       `json:"kind"`
	Version  uint64          `json:"version"`
	At       time.Time       `json:"at"`
	Actor    string          `json:"actor,omitempty"`
	Bet      *model.Bet      `json:"bet,omitempty"`
	Movement *model.Movement `json:"movement,omitempty"`
	Tipster  *model.Tipster  `json:"tipster,omitempty"`
}

// Subscriber receives committed events in commit order. Subscribers may read
// from the ledger but must not write to it.
type Subscriber func(Event)

// Options configures a Ledger.
type Options struct {
	InitialBankroll decimal.Decimal
	Clock           func() time.Time
}

// Ledger is the source of truth for bets and bankroll movements. Writes go
// through the Store first and touch memory only after the store commits, so a
// failed write leaves no trace. Readers never block on store I/O.
type Ledger struct {
	writeMu sync.Mutex // serializes writers and event delivery
	mu      sync.RWMutex

	store   Store
	now     func() time.Time
	initial decimal.Decimal
	log     *logrus.Entry

	tipsters     map[int64]*model.Tipster
	tipsterNames map[string]int64
	tipsterOrder []int64
	bets         map[int64]*model.Bet
	ordered      []*model.Bet
	movements    []model.Movement
	nextBetID    int64
	nextTipster  int64
	version      uint64

	subs []Subscriber
}

// Open loads the ledger from store. An empty store gets the opening movement
// carrying the initial bankroll.
func Open(ctx context.Context, store Store, opts Options) (*Ledger, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	l := &Ledger{
		store:        store,
		now:          opts.Clock,
		initial:      opts.InitialBankroll,
		log:          logging.For("ledger"),
		tipsters:     make(map[int64]*model.Tipster),
		tipsterNames: make(map[string]int64),
		bets:         make(map[int64]*model.Bet),
		nextBetID:    1,
		nextTipster:  1,
	}

	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if err := l.restore(state); err != nil {
		return nil, err
	}

	if len(l.movements) == 0 {
		opening := model.Movement{
			Seq:         0,
			Date:        l.now(),
			Balance:     l.initial,
			Delta:       l.initial,
			Description: "initial bankroll",
			Actor:       "system",
		}
		if err := store.InsertMovement(ctx, opening); err != nil {
			return nil, fmt.Errorf("write opening movement: %w", err)
		}
		l.movements = append(l.movements, opening)
		l.log.Infof("opened new ledger with initial bankroll %s", l.initial)
	} else {
		l.initial = l.movements[0].Delta
		l.log.Infof("loaded ledger: %d bets, %d movements, %d tipsters", len(l.bets), len(l.movements), len(l.tipsters))
	}
	return l, nil
}

func (l *Ledger) restore(state *State) error {
	if state == nil {
		return nil
	}
	for i := range state.Tipsters {
		t := state.Tipsters[i]
		l.tipsters[t.ID] = &t
		l.tipsterNames[strings.ToLower(t.Name)] = t.ID
		l.tipsterOrder = append(l.tipsterOrder, t.ID)
		if t.ID >= l.nextTipster {
			l.nextTipster = t.ID + 1
		}
	}
	for i := range state.Bets {
		b := state.Bets[i]
		l.bets[b.ID] = &b
		l.ordered = append(l.ordered, &b)
		if b.ID >= l.nextBetID {
			l.nextBetID = b.ID + 1
		}
	}
	sort.SliceStable(l.ordered, func(i, j int) bool { return betLess(l.ordered[i], l.ordered[j]) })

	l.movements = append(l.movements, state.Movements...)
	sort.Slice(l.movements, func(i, j int) bool { return l.movements[i].Seq < l.movements[j].Seq })
	for i, m := range l.movements {
		if m.Seq != int64(i) {
			return fmt.Errorf("movement sequence gap: position %d holds seq %d", i, m.Seq)
		}
	}
	return nil
}

// Subscribe registers a subscriber for committed events.
func (l *Ledger) Subscribe(s Subscriber) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.subs = append(l.subs, s)
}

// InitialBankroll returns the balance of the opening movement.
func (l *Ledger) InitialBankroll() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initial
}

// Balance returns the stored balance of the latest movement.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.movements[len(l.movements)-1].Balance
}

// Version increases with every committed write.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// RegisterTipster adds a tipster with a unique name.
func (l *Ledger) RegisterTipster(ctx context.Context, draft model.TipsterDraft, actor string) (model.Tipster, error) {
	name := strings.TrimSpace(draft.Name)
	if name == "" {
		return model.Tipster{}, model.Invalid("name", "required")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	_, dup := l.tipsterNames[strings.ToLower(name)]
	id := l.nextTipster
	l.mu.RUnlock()
	if dup {
		return model.Tipster{}, model.Invalid("name", fmt.Sprintf("tipster %q already exists", name))
	}

	t := model.Tipster{
		ID:           id,
		Name:         name,
		Category:     draft.Category,
		RegisteredAt: l.now(),
		Active:       true,
		Note:         draft.Note,
		Tier:         model.TierNew,
	}
	if err := l.store.InsertTipster(ctx, t); err != nil {
		return model.Tipster{}, fmt.Errorf("insert tipster: %w", err)
	}

	l.mu.Lock()
	l.tipsters[id] = &t
	l.tipsterNames[strings.ToLower(name)] = id
	l.tipsterOrder = append(l.tipsterOrder, id)
	l.nextTipster++
	l.version++
	evt := Event{Kind: EventTipsterRegistered, Version: l.version, At: t.RegisteredAt, Actor: actor, Tipster: &t}
	l.mu.Unlock()

	l.log.WithField("actor", actor).Infof("registered tipster %d %q", id, name)
	l.publish(evt)
	return t, nil
}

// RecordBet validates the draft and appends it with the next id. A draft with
// a terminal outcome is settled in the same unit and gets its movement.
func (l *Ledger) RecordBet(ctx context.Context, draft model.BetDraft, actor string) (model.Bet, error) {
	if err := draft.Validate(); err != nil {
		return model.Bet{}, err
	}
	outcome := draft.Outcome
	if outcome == "" {
		outcome = model.OutcomePending
	}
	pl, err := model.RealizedPL(outcome, draft.Odds, draft.Stake, draft.ProfitLoss)
	if err != nil {
		return model.Bet{}, err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	if draft.TipsterID != nil {
		if _, ok := l.tipsters[*draft.TipsterID]; !ok {
			l.mu.RUnlock()
			return model.Bet{}, model.Invalid("tipster_id", fmt.Sprintf("unknown tipster %d", *draft.TipsterID))
		}
	}
	id := l.nextBetID
	last := l.movements[len(l.movements)-1]
	l.mu.RUnlock()

	now := l.now()
	bet := model.Bet{
		ID:          id,
		Timestamp:   draft.Timestamp,
		Competition: draft.Competition,
		HomeTeam:    draft.HomeTeam,
		AwayTeam:    draft.AwayTeam,
		BetType:     draft.BetType,
		Odds:        draft.Odds,
		Stake:       draft.Stake,
		Outcome:     outcome,
		ProfitLoss:  pl,
		Note:        draft.Note,
		TipsterID:   copyID(draft.TipsterID),
		Source:      draft.Source,
		CreatedBy:   actor,
	}

	var mv *model.Movement
	if outcome.Terminal() {
		bet.SettledAt = &now
		bet.SettledBy = actor
		m := settlementMovement(last, &bet, now, actor)
		mv = &m
	}

	if err := l.store.InsertBet(ctx, bet, mv); err != nil {
		return model.Bet{}, fmt.Errorf("insert bet: %w", err)
	}

	l.mu.Lock()
	l.bets[id] = &bet
	l.insertOrdered(&bet)
	l.nextBetID++
	l.version++
	events := []Event{{Kind: EventBetRecorded, Version: l.version, At: now, Actor: actor, Bet: &bet}}
	if mv != nil {
		l.movements = append(l.movements, *mv)
		l.version++
		events = append(events, Event{Kind: EventBetSettled, Version: l.version, At: now, Actor: actor, Bet: &bet, Movement: mv})
	}
	l.mu.Unlock()

	l.log.WithField("actor", actor).Debugf("recorded bet %d (%s, odds %.2f, stake %s)", id, outcome, bet.Odds, bet.Stake)
	l.publish(events...)
	return bet, nil
}

// SettleBet moves a pending bet to a terminal outcome and appends exactly one
// movement whose delta is the realized profit or loss. The two are committed
// together; on any failure neither is visible.
func (l *Ledger) SettleBet(ctx context.Context, id int64, outcome model.Outcome, realized *decimal.Decimal, actor string) (model.Bet, error) {
	if !outcome.Valid() {
		return model.Bet{}, model.Invalid("outcome", fmt.Sprintf("unknown outcome %q", outcome))
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	cur, ok := l.bets[id]
	last := l.movements[len(l.movements)-1]
	l.mu.RUnlock()
	if !ok {
		return model.Bet{}, betNotFound(id)
	}
	if cur.Settled() {
		return model.Bet{}, fmt.Errorf("%w: bet %d is already %s", model.ErrInvalidTransition, id, cur.Outcome)
	}
	if !outcome.Terminal() {
		return model.Bet{}, fmt.Errorf("%w: bet %d cannot be settled as %s", model.ErrInvalidTransition, id, outcome)
	}
	pl, err := model.RealizedPL(outcome, cur.Odds, cur.Stake, realized)
	if err != nil {
		return model.Bet{}, err
	}

	now := l.now()
	settled := *cur
	settled.Outcome = outcome
	settled.ProfitLoss = pl
	settled.SettledAt = &now
	settled.SettledBy = actor
	mv := settlementMovement(last, &settled, now, actor)

	if err := l.store.SettleBet(ctx, settled, mv); err != nil {
		return model.Bet{}, fmt.Errorf("settle bet %d: %w", id, err)
	}

	l.mu.Lock()
	l.bets[id] = &settled
	l.replaceOrdered(&settled)
	l.movements = append(l.movements, mv)
	l.version++
	evt := Event{Kind: EventBetSettled, Version: l.version, At: now, Actor: actor, Bet: &settled, Movement: &mv}
	l.mu.Unlock()

	l.log.WithField("actor", actor).Infof("settled bet %d as %s, pl %s, balance %s", id, outcome, pl, mv.Balance)
	l.publish(evt)
	return settled, nil
}

// AppendMovement appends a manual bankroll movement (deposit, withdrawal, bonus).
func (l *Ledger) AppendMovement(ctx context.Context, delta decimal.Decimal, description string, betID *int64, actor string) (model.Movement, error) {
	if delta.IsZero() {
		return model.Movement{}, model.Invalid("delta", "must not be zero")
	}
	if strings.TrimSpace(description) == "" {
		return model.Movement{}, model.Invalid("description", "required")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	if betID != nil {
		if _, ok := l.bets[*betID]; !ok {
			l.mu.RUnlock()
			return model.Movement{}, betNotFound(*betID)
		}
	}
	last := l.movements[len(l.movements)-1]
	l.mu.RUnlock()

	mv := model.Movement{
		Seq:         last.Seq + 1,
		Date:        l.now(),
		Balance:     last.Balance.Add(delta),
		Delta:       delta,
		Description: description,
		BetID:       copyID(betID),
		Actor:       actor,
	}
	if err := l.store.InsertMovement(ctx, mv); err != nil {
		return model.Movement{}, fmt.Errorf("insert movement: %w", err)
	}

	l.mu.Lock()
	l.movements = append(l.movements, mv)
	l.version++
	evt := Event{Kind: EventMovementAppended, Version: l.version, At: mv.Date, Actor: actor, Movement: &mv}
	l.mu.Unlock()

	l.log.WithField("actor", actor).Infof("movement %d: %s (%s), balance %s", mv.Seq, delta, description, mv.Balance)
	l.publish(evt)
	return mv, nil
}

// RewriteBalances replaces the stored balances with corrected values and
// appends a zero-delta audit movement flagged as auto-generated. corrected
// must cover the whole movement log with unchanged deltas.
func (l *Ledger) RewriteBalances(ctx context.Context, corrected []model.Movement, description, actor string) (model.Movement, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	n := len(l.movements)
	var mismatch error
	if len(corrected) != n {
		mismatch = fmt.Errorf("%w: corrected log has %d movements, ledger has %d", model.ErrInvalidTransition, len(corrected), n)
	} else {
		for i := range corrected {
			if corrected[i].Seq != l.movements[i].Seq || !corrected[i].Delta.Equal(l.movements[i].Delta) {
				mismatch = fmt.Errorf("%w: movement %d changed beyond its balance", model.ErrInvalidTransition, l.movements[i].Seq)
				break
			}
		}
	}
	l.mu.RUnlock()
	if mismatch != nil {
		return model.Movement{}, mismatch
	}

	last := corrected[n-1]
	audit := model.Movement{
		Seq:           last.Seq + 1,
		Date:          l.now(),
		Balance:       last.Balance,
		Delta:         decimal.Zero,
		Description:   description,
		AutoGenerated: true,
		Actor:         actor,
	}
	if err := l.store.RewriteBalances(ctx, corrected, audit); err != nil {
		return model.Movement{}, fmt.Errorf("rewrite balances: %w", err)
	}

	l.mu.Lock()
	fixed := make([]model.Movement, n, n+1)
	copy(fixed, corrected)
	l.movements = append(fixed, audit)
	l.version++
	evt := Event{Kind: EventBalancesRepaired, Version: l.version, At: audit.Date, Actor: actor, Movement: &audit}
	l.mu.Unlock()

	l.log.WithField("actor", actor).Warnf("rewrote %d movement balances: %s", n, description)
	l.publish(evt)
	return audit, nil
}

func (l *Ledger) publish(events ...Event) {
	for _, evt := range events {
		for _, s := range l.subs {
			s(evt)
		}
	}
}

func (l *Ledger) insertOrdered(b *model.Bet) {
	i := sort.Search(len(l.ordered), func(i int) bool { return betLess(b, l.ordered[i]) })
	l.ordered = append(l.ordered, nil)
	copy(l.ordered[i+1:], l.ordered[i:])
	l.ordered[i] = b
}

// replaceOrdered swaps the pointer of an existing bet. The old value stays
// intact for readers still holding it.
func (l *Ledger) replaceOrdered(b *model.Bet) {
	i := sort.Search(len(l.ordered), func(i int) bool { return !betLess(l.ordered[i], b) })
	if i < len(l.ordered) && l.ordered[i].ID == b.ID {
		l.ordered[i] = b
	}
}

func betLess(a, b *model.Bet) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID < b.ID
	}
	return a.Timestamp.Before(b.Timestamp)
}

func settlementMovement(last model.Movement, bet *model.Bet, at time.Time, actor string) model.Movement {
	id := bet.ID
	return model.Movement{
		Seq:         last.Seq + 1,
		Date:        at,
		Balance:     last.Balance.Add(bet.ProfitLoss),
		Delta:       bet.ProfitLoss,
		Description: fmt.Sprintf("bet %d %s", bet.ID, bet.Outcome),
		BetID:       &id,
		Actor:       actor,
	}
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func betNotFound(id int64) error {
	return fmt.Errorf("%w: bet %d", model.ErrNotFound, id)
}

func tipsterNotFound(id int64) error {
	return fmt.Errorf("%w: tipster %d", model.ErrNotFound, id)
}
