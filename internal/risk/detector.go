// Package risk scans a sliding window of recent bets for behavioral risk
// patterns and keeps at most one active alert per (rule, subject).
package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"BetSentinel/internal/ledger"
	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
)

// Store persists alerts with their resolution state.
type Store interface {
	SaveAlert(ctx context.Context, alert model.RiskAlert) error
	LoadAlerts(ctx context.Context) ([]model.RiskAlert, error)
}

// AutoResolver is the ResolvedBy value of alerts closed by re-evaluation.
const AutoResolver = "auto"

// Result summarizes one evaluation.
type Result struct {
	Skipped      bool
	Fingerprint  uint64
	Bets         int
	Observations int
	Raised       []model.RiskAlert
	Updated      []model.RiskAlert
	Resolved     []model.RiskAlert
}

// Changed reports whether the evaluation touched any alert.
func (r Result) Changed() bool {
	return len(r.Raised)+len(r.Updated)+len(r.Resolved) > 0
}

// Detector owns risk alerts and observations.
type Detector struct {
	mu    sync.Mutex
	cfg   Config
	src   Source
	store Store
	rules []Rule
	now   func() time.Time
	log   *logrus.Entry

	alerts       map[string]*model.RiskAlert // by id
	active       map[string]string           // alert key -> id
	observations []model.RiskObservation     // ring, oldest first
	lastPrint    uint64
	evaluated    bool
	unsaved      map[string]struct{} // alert ids whose latest write failed

	hooks []func(model.RiskAlert)
}

// New creates a detector. store may be nil; rules defaults to Rules(cfg, nil).
func New(cfg Config, src Source, store Store, rules []Rule, clock func() time.Time) *Detector {
	if clock == nil {
		clock = time.Now
	}
	if rules == nil {
		rules = Rules(cfg, nil)
	}
	if cfg.ObservationLimit <= 0 {
		cfg.ObservationLimit = DefaultConfig().ObservationLimit
	}
	return &Detector{
		cfg:    cfg,
		src:    src,
		store:  store,
		rules:  rules,
		now:    clock,
		log:    logging.For("risk"),
		alerts: make(map[string]*model.RiskAlert),
		active:  make(map[string]string),
		unsaved: make(map[string]struct{}),
	}
}

// Load restores alerts from the store so resolution state survives restarts.
// When alerts exist, the current window is taken as already evaluated, so a
// restart does not raise again what the user resolved.
func (d *Detector) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	alerts, err := d.store.LoadAlerts(ctx)
	if err != nil {
		return fmt.Errorf("load alerts: %w", err)
	}
	var fp uint64
	if len(alerts) > 0 {
		fp = BuildWindow(d.src, d.cfg, d.now()).Fingerprint()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(alerts) > 0 {
		d.lastPrint = fp
		d.evaluated = true
	}
	for i := range alerts {
		a := alerts[i]
		d.alerts[a.ID] = &a
		if !a.Active {
			continue
		}
		if prev, ok := d.active[a.Key()]; ok && d.alerts[prev].DetectedAt.After(a.DetectedAt) {
			continue
		}
		d.active[a.Key()] = a.ID
	}
	d.log.Infof("loaded %d alerts, %d active", len(alerts), len(d.active))
	return nil
}

// OnRaise registers a hook called for every newly raised alert, after the
// evaluation has committed.
func (d *Detector) OnRaise(fn func(model.RiskAlert)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, fn)
}

// OnEvent re-evaluates on every bet or bankroll change.
func (d *Detector) OnEvent(e ledger.Event) {
	switch e.Kind {
	case ledger.EventBetRecorded, ledger.EventBetSettled, ledger.EventMovementAppended, ledger.EventBalancesRepaired:
		if _, err := d.Evaluate(context.Background()); err != nil {
			d.log.Errorf("evaluate after %s: %v", e.Kind, err)
		}
	}
}

// Evaluate runs every rule over the current window and folds the findings
// into alerts. An unchanged window is not evaluated again.
func (d *Detector) Evaluate(ctx context.Context) (Result, error) {
	now := d.now()
	w := BuildWindow(d.src, d.cfg, now)
	fp := w.Fingerprint()

	d.mu.Lock()
	if d.evaluated && fp == d.lastPrint {
		retry := d.withUnsaved(nil)
		d.mu.Unlock()
		return Result{Skipped: true, Fingerprint: fp, Bets: len(w.Bets)}, d.persist(ctx, retry)
	}

	res := Result{Fingerprint: fp, Bets: len(w.Bets)}
	seen := make(map[string]bool)
	var dirty []model.RiskAlert

	for _, rule := range d.rules {
		for _, f := range rule.Check(w) {
			obs := d.observe(rule.Type(), f, now)
			res.Observations++
			k := string(rule.Type()) + "|" + f.Subject
			seen[k] = true

			if id, ok := d.active[k]; ok {
				a := d.alerts[id]
				if d.refresh(a, f, now) {
					res.Updated = append(res.Updated, *a)
					dirty = append(dirty, *a)
				}
				continue
			}
			a := d.raise(rule.Type(), f, now)
			d.log.WithFields(logrus.Fields{"alert": a.ID, "observation": obs.ID}).
				Infof("raised %s alert %s on %s (score %.2f)", a.Severity, a.Type, a.Subject, a.Score)
			res.Raised = append(res.Raised, *a)
			dirty = append(dirty, *a)
		}
	}

	for _, k := range sortedKeys(d.active) {
		if seen[k] {
			continue
		}
		a := d.alerts[d.active[k]]
		a.Active = false
		resolved := now
		a.ResolvedAt = &resolved
		a.ResolvedBy = AutoResolver
		delete(d.active, k)
		d.log.Infof("auto-resolved %s alert on %s", a.Type, a.Subject)
		res.Resolved = append(res.Resolved, *a)
		dirty = append(dirty, *a)
	}

	dirty = d.withUnsaved(dirty)
	d.lastPrint = fp
	d.evaluated = true
	hooks := d.hooks
	d.mu.Unlock()

	err := d.persist(ctx, dirty)
	for _, a := range res.Raised {
		for _, h := range hooks {
			h(a)
		}
	}
	return res, err
}

func (d *Detector) observe(t model.AlertType, f Finding, now time.Time) model.RiskObservation {
	obs := model.RiskObservation{
		ID:          uuid.NewString(),
		Name:        t,
		Subject:     f.Subject,
		Description: f.Description,
		DetectedAt:  now,
		Severity:    f.Score,
		Value:       f.Value,
		Context:     f.Context,
	}
	d.observations = append(d.observations, obs)
	if over := len(d.observations) - d.cfg.ObservationLimit; over > 0 {
		d.observations = append(d.observations[:0:0], d.observations[over:]...)
	}
	return obs
}

func (d *Detector) raise(t model.AlertType, f Finding, now time.Time) *model.RiskAlert {
	a := &model.RiskAlert{
		ID:             uuid.NewString(),
		Type:           t,
		Subject:        f.Subject,
		Severity:       d.cfg.Bands.Severity(f.Score),
		Score:          f.Score,
		Title:          f.Title,
		Description:    f.Description,
		DetectedAt:     now,
		Value:          f.Value,
		Recommendation: recommendation(t),
		Active:         true,
	}
	d.alerts[a.ID] = a
	d.active[a.Key()] = a.ID
	return a
}

// refresh updates an active alert in place. Detection time moves only when
// the content actually changed.
func (d *Detector) refresh(a *model.RiskAlert, f Finding, now time.Time) bool {
	sev := d.cfg.Bands.Severity(f.Score)
	sameValue := (a.Value == nil && f.Value == nil) || (a.Value != nil && f.Value != nil && a.Value.Equal(*f.Value))
	if a.Score == f.Score && a.Severity == sev && a.Title == f.Title && a.Description == f.Description && sameValue {
		return false
	}
	a.Score = f.Score
	a.Severity = sev
	a.Title = f.Title
	a.Description = f.Description
	a.Value = f.Value
	a.DetectedAt = now
	return true
}

// withUnsaved appends the current value of every alert whose last write
// failed and is not already in dirty. d.mu must be held.
func (d *Detector) withUnsaved(dirty []model.RiskAlert) []model.RiskAlert {
	if len(d.unsaved) == 0 {
		return dirty
	}
	queued := make(map[string]bool, len(dirty))
	for _, a := range dirty {
		queued[a.ID] = true
	}
	ids := make([]string, 0, len(d.unsaved))
	for id := range d.unsaved {
		if !queued[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		dirty = append(dirty, *d.alerts[id])
	}
	return dirty
}

// persist writes alerts and remembers the ones that failed, so the next
// evaluation writes them again even when nothing about them changed.
func (d *Detector) persist(ctx context.Context, alerts []model.RiskAlert) error {
	if d.store == nil || len(alerts) == 0 {
		return nil
	}
	var firstErr error
	failed := make(map[string]bool)
	for _, a := range alerts {
		if err := d.store.SaveAlert(ctx, a); err != nil {
			d.log.Errorf("persist alert %s: %v", a.ID, err)
			failed[a.ID] = true
			if firstErr == nil {
				firstErr = fmt.Errorf("persist alert %s: %w", a.ID, err)
			}
		}
	}
	d.mu.Lock()
	for _, a := range alerts {
		if failed[a.ID] {
			d.unsaved[a.ID] = struct{}{}
		} else {
			delete(d.unsaved, a.ID)
		}
	}
	d.mu.Unlock()
	return firstErr
}

// Resolve acknowledges an active alert. If its condition still holds, the next
// evaluation over a changed window raises a fresh alert.
func (d *Detector) Resolve(ctx context.Context, id, actor string) (model.RiskAlert, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.alerts[id]
	if !ok {
		return model.RiskAlert{}, fmt.Errorf("%w: alert %s", model.ErrNotFound, id)
	}
	if !a.Active {
		return model.RiskAlert{}, fmt.Errorf("%w: alert %s already resolved", model.ErrInvalidTransition, id)
	}

	resolved := *a
	now := d.now()
	resolved.Active = false
	resolved.ResolvedAt = &now
	resolved.ResolvedBy = actor
	if d.store != nil {
		if err := d.store.SaveAlert(ctx, resolved); err != nil {
			return model.RiskAlert{}, fmt.Errorf("persist alert %s: %w", id, err)
		}
	}
	*a = resolved
	delete(d.active, a.Key())
	delete(d.unsaved, id)

	d.log.WithField("actor", actor).Infof("resolved %s alert %s on %s", a.Type, a.ID, a.Subject)
	return resolved, nil
}

// ActiveAlerts lists active alerts, most severe first.
func (d *Detector) ActiveAlerts() []model.RiskAlert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.RiskAlert, 0, len(d.active))
	for _, id := range d.active {
		out = append(out, *d.alerts[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Alerts lists every alert, active or resolved, oldest first.
func (d *Detector) Alerts() []model.RiskAlert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.RiskAlert, 0, len(d.alerts))
	for _, a := range d.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Observations returns up to n of the latest observations, oldest first.
func (d *Detector) Observations(n int) []model.RiskObservation {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.observations) {
		n = len(d.observations)
	}
	out := make([]model.RiskObservation, n)
	copy(out, d.observations[len(d.observations)-n:])
	return out
}

// Reset drops the fingerprint so the next evaluation runs in full.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evaluated = false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func recommendation(t model.AlertType) string {
	switch t {
	case model.AlertStakeEscalation:
		return "Return to your standard unit stake; do not size up to recover a loss."
	case model.AlertLossChasing:
		return "Pause betting after a losing run and review the next selection before staking more."
	case model.AlertConcentration:
		return "Spread stake across more competitions, tipsters and markets or lower the exposure here."
	case model.AlertDepletionVelocity:
		return "Cut stakes to a smaller fraction of the bankroll until the drawdown recovers."
	}
	return ""
}
