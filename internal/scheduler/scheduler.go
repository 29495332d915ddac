package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"BetSentinel/internal/engine"
	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
	"BetSentinel/internal/notifier"
)

// Notifier delivers formatted messages.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler manages all cron tasks and answers chat commands.
type Scheduler struct {
	Cron     *cron.Cron
	Engine   *engine.Engine
	Notifier Notifier
	Ctx      context.Context
	// MinSeverity is the lowest severity pushed to the chat when raised.
	MinSeverity model.Severity
	Now         func() time.Time

	log *logrus.Entry

	mu        sync.Mutex
	lastDrift string // last drift report sent, so hourly checks do not repeat it
	closed    int    // periods closed since the last summary
	sends     sync.WaitGroup
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, eng *engine.Engine, n Notifier, minSeverity model.Severity) *Scheduler {
	return &Scheduler{
		Cron:        cron.New(cron.WithSeconds()),
		Engine:      eng,
		Notifier:    n,
		Ctx:         ctx,
		MinSeverity: minSeverity,
		Now:         time.Now,
		log:         logging.For("scheduler"),
	}
}

// RegisterAll registers the verify, evaluate, close and summary tasks.
func (s *Scheduler) RegisterAll(verifyCron, evaluateCron, closeCron, summaryCron string) error {
	tasks := []struct {
		name string
		spec string
		fn   func()
	}{
		{"verify", verifyCron, s.verifyTask},
		{"evaluate", evaluateCron, s.evaluateTask},
		{"close", closeCron, s.closeTask},
		{"summary", summaryCron, s.summaryTask},
	}
	for _, t := range tasks {
		if _, err := s.Cron.AddFunc(t.spec, t.fn); err != nil {
			return fmt.Errorf("register %s task: %w", t.name, err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running tasks and pending sends.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.sends.Wait()
	s.log.Info("scheduler stopped")
}

// RunNow executes the verify, close and evaluate tasks immediately (RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.verifyTask()
	s.closeTask()
	s.evaluateTask()
}

// NotifyAlert pushes a newly raised alert to the chat when it is severe
// enough. It is called from the ledger write path, so delivery is async.
func (s *Scheduler) NotifyAlert(a model.RiskAlert) {
	if a.Severity.Rank() < s.MinSeverity.Rank() {
		return
	}
	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		s.trySend(notifier.FormatAlert(a))
	}()
}

func (s *Scheduler) verifyTask() {
	rep := s.Engine.Verify(nil)
	if !rep.Drifted() {
		s.log.Debugf("verify: %s", rep)
		s.mu.Lock()
		s.lastDrift = ""
		s.mu.Unlock()
		return
	}
	s.log.Warnf("verify: %s", rep)

	s.mu.Lock()
	repeat := s.lastDrift == rep.String()
	s.lastDrift = rep.String()
	s.mu.Unlock()
	if !repeat {
		s.trySend(notifier.FormatReport(rep))
	}
}

func (s *Scheduler) evaluateTask() {
	res, err := s.Engine.Evaluate(s.Ctx)
	if err != nil {
		s.log.Errorf("evaluate: %v", err)
		return
	}
	if res.Skipped {
		s.log.Debug("evaluate: window unchanged")
		return
	}
	s.log.Infof("evaluate: %d bets, %d raised, %d updated, %d resolved",
		res.Bets, len(res.Raised), len(res.Updated), len(res.Resolved))
}

func (s *Scheduler) closeTask() {
	n, err := s.Engine.CloseElapsed(s.Ctx)
	if err != nil {
		s.log.Errorf("close periods: %v", err)
	}
	s.mu.Lock()
	s.closed += n
	s.mu.Unlock()
}

func (s *Scheduler) summaryTask() {
	s.mu.Lock()
	closed := s.closed
	s.closed = 0
	s.mu.Unlock()
	s.trySend(s.summary(closed))
}

func (s *Scheduler) summary(closed int) string {
	return notifier.FormatDailySummary(s.Now(), s.Engine.Status(), s.Engine.ListActiveAlerts(), closed)
}

// HandleCommand processes a chat command from sender and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command, sender string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	// Commands may carry the bot name, e.g. /alerts@sentinel_bot.
	name, _, _ := strings.Cut(fields[0], "@")

	switch name {
	case "/bankroll", "/status":
		return notifier.FormatStatus(s.Engine.Status())
	case "/alerts":
		return notifier.FormatAlerts(s.Engine.ListActiveAlerts())
	case "/resolve":
		if len(fields) < 2 {
			return "Usage: /resolve &lt;alert id&gt;"
		}
		return s.resolve(ctx, fields[1], sender)
	case "/tipsters":
		return notifier.FormatTipsters(s.Engine.Tipsters())
	case "/verify":
		return notifier.FormatReport(s.Engine.Verify(nil))
	case "/repair":
		return s.repair(ctx, sender)
	case "/summary":
		return s.summary(0)
	default:
		return "Available commands:\n" +
			"• /bankroll - bankroll status\n" +
			"• /alerts - active risk alerts\n" +
			"• /resolve &lt;id&gt; - acknowledge an alert\n" +
			"• /tipsters - tipster ratings\n" +
			"• /verify - check running balances\n" +
			"• /repair - rewrite drifted balances\n" +
			"• /summary - daily summary"
	}
}

func (s *Scheduler) resolve(ctx context.Context, id, sender string) string {
	a, err := s.Engine.ResolveAlert(ctx, id, sender)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return fmt.Sprintf("Unknown alert %s", id)
	case errors.Is(err, model.ErrInvalidTransition):
		return fmt.Sprintf("Alert %s is already resolved", id)
	case err != nil:
		s.log.Errorf("resolve %s: %v", id, err)
		return fmt.Sprintf("❌ Could not resolve %s", id)
	}
	return fmt.Sprintf("✅ Resolved %s alert on %s", a.Type, a.Subject)
}

func (s *Scheduler) repair(ctx context.Context, sender string) string {
	rep, audit, err := s.Engine.Repair(ctx, sender)
	if err != nil {
		s.log.Errorf("repair: %v", err)
		return "❌ Repair failed, balances unchanged"
	}
	if audit == nil {
		return notifier.FormatReport(rep)
	}
	s.mu.Lock()
	s.lastDrift = ""
	s.mu.Unlock()
	return fmt.Sprintf("🔧 Repaired %d movements from seq %d\nAudit entry: seq %d",
		rep.Divergent, *rep.FirstDivergent, audit.Seq)
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.log.Errorf("send notification: %v", err)
	}
}
