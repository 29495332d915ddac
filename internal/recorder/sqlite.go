package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"BetSentinel/internal/ledger"
	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
)

// SQLiteRecorder persists the ledger, snapshots and alerts to a SQLite database.
// Money columns are TEXT holding exact decimal strings; timestamps are unix nanoseconds.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logrus.Entry
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards and exporters can read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: logging.For("recorder")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Infof("sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tipsters (
			id            INTEGER PRIMARY KEY,
			name          TEXT NOT NULL UNIQUE,
			category      TEXT,
			registered_at INTEGER NOT NULL,
			active        INTEGER NOT NULL,
			note          TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS bets (
			id          INTEGER PRIMARY KEY,
			timestamp   INTEGER NOT NULL,
			competition TEXT,
			home_team   TEXT,
			away_team   TEXT,
			bet_type    TEXT,
			odds        REAL NOT NULL,
			stake       TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			profit_loss TEXT NOT NULL,
			note        TEXT,
			tipster_id  INTEGER REFERENCES tipsters(id),
			source      TEXT,
			settled_at  INTEGER,
			created_by  TEXT,
			settled_by  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bets_ts ON bets(timestamp, id)`,
		`CREATE INDEX IF NOT EXISTS idx_bets_tipster ON bets(tipster_id)`,

		`CREATE TABLE IF NOT EXISTS movements (
			seq            INTEGER PRIMARY KEY,
			date           INTEGER NOT NULL,
			balance        TEXT NOT NULL,
			delta          TEXT NOT NULL,
			description    TEXT,
			bet_id         INTEGER REFERENCES bets(id),
			auto_generated INTEGER NOT NULL DEFAULT 0,
			actor          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_movements_date ON movements(date)`,

		`CREATE TABLE IF NOT EXISTS performance_snapshots (
			tipster_id      INTEGER NOT NULL,
			period          TEXT NOT NULL,
			period_key      TEXT NOT NULL,
			tips            INTEGER,
			wins            INTEGER,
			losses          INTEGER,
			win_rate        REAL,
			roi             REAL,
			total_stake     TEXT,
			profit          TEXT,
			avg_odds        REAL,
			max_drawdown    TEXT,
			max_loss_streak INTEGER,
			gross_won       TEXT NOT NULL DEFAULT '0',
			gross_lost      TEXT NOT NULL DEFAULT '0',
			closed          INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			PRIMARY KEY (tipster_id, period, period_key)
		)`,

		`CREATE TABLE IF NOT EXISTS risk_alerts (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			subject        TEXT NOT NULL,
			severity       TEXT NOT NULL,
			score          REAL,
			title          TEXT,
			description    TEXT,
			detected_at    INTEGER NOT NULL,
			value          TEXT,
			recommendation TEXT,
			active         INTEGER NOT NULL,
			resolved_at    INTEGER,
			resolved_by    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_active ON risk_alerts(active, type, subject)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	for _, col := range []string{"gross_won", "gross_lost"} {
		if err := r.addColumn("performance_snapshots", col, "TEXT NOT NULL DEFAULT '0'"); err != nil {
			return err
		}
	}
	return nil
}

// addColumn adds a column to databases created before it existed.
func (r *SQLiteRecorder) addColumn(table, column, decl string) error {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	r.log.Infof("added column %s.%s", table, column)
	return nil
}

// Load reads the whole ledger back in id / sequence order.
func (r *SQLiteRecorder) Load(ctx context.Context) (*ledger.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &ledger.State{}

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, category, registered_at, active, note FROM tipsters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tipsters: %w", err)
	}
	for rows.Next() {
		var (
			t          model.Tipster
			registered int64
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &registered, &t.Active, &t.Note); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan tipster: %w", err)
		}
		t.RegisteredAt = fromNanos(registered)
		t.Tier = model.TierNew
		st.Tipsters = append(st.Tipsters, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT id, timestamp, competition, home_team, away_team, bet_type,
		odds, stake, outcome, profit_loss, note, tipster_id, source, settled_at, created_by, settled_by
		FROM bets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	for rows.Next() {
		var (
			b         model.Bet
			ts        int64
			stake, pl string
			outcome   string
			tipster   sql.NullInt64
			settledAt sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &ts, &b.Competition, &b.HomeTeam, &b.AwayTeam, &b.BetType,
			&b.Odds, &stake, &outcome, &pl, &b.Note, &tipster, &b.Source, &settledAt, &b.CreatedBy, &b.SettledBy); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		b.Timestamp = fromNanos(ts)
		b.Outcome = model.Outcome(outcome)
		if b.Stake, err = decimal.NewFromString(stake); err != nil {
			rows.Close()
			return nil, fmt.Errorf("bet %d stake: %w", b.ID, err)
		}
		if b.ProfitLoss, err = decimal.NewFromString(pl); err != nil {
			rows.Close()
			return nil, fmt.Errorf("bet %d profit_loss: %w", b.ID, err)
		}
		if tipster.Valid {
			id := tipster.Int64
			b.TipsterID = &id
		}
		if settledAt.Valid {
			at := fromNanos(settledAt.Int64)
			b.SettledAt = &at
		}
		st.Bets = append(st.Bets, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT seq, date, balance, delta, description, bet_id, auto_generated, actor
		FROM movements ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m              model.Movement
			date           int64
			balance, delta string
			betID          sql.NullInt64
		)
		if err := rows.Scan(&m.Seq, &date, &balance, &delta, &m.Description, &betID, &m.AutoGenerated, &m.Actor); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.Date = fromNanos(date)
		if m.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("movement %d balance: %w", m.Seq, err)
		}
		if m.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("movement %d delta: %w", m.Seq, err)
		}
		if betID.Valid {
			id := betID.Int64
			m.BetID = &id
		}
		st.Movements = append(st.Movements, m)
	}
	return st, rows.Err()
}

func (r *SQLiteRecorder) InsertTipster(ctx context.Context, t model.Tipster) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO tipsters
		(id, name, category, registered_at, active, note)
		VALUES (?,?,?,?,?,?)`,
		t.ID, t.Name, t.Category, t.RegisteredAt.UnixNano(), t.Active, t.Note,
	)
	return err
}

func (r *SQLiteRecorder) InsertBet(ctx context.Context, bet model.Bet, mv *model.Movement) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertBet(ctx, tx, bet); err != nil {
			return err
		}
		if mv != nil {
			return insertMovement(ctx, tx, *mv)
		}
		return nil
	})
}

func (r *SQLiteRecorder) SettleBet(ctx context.Context, bet model.Bet, mv model.Movement) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE bets
			SET outcome = ?, profit_loss = ?, settled_at = ?, settled_by = ?
			WHERE id = ? AND outcome = ?`,
			string(bet.Outcome), bet.ProfitLoss.String(), nullTime(bet.SettledAt), bet.SettledBy,
			bet.ID, string(model.OutcomePending),
		)
		if err != nil {
			return fmt.Errorf("update bet: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("bet %d is not pending in store", bet.ID)
		}
		return insertMovement(ctx, tx, mv)
	})
}

func (r *SQLiteRecorder) InsertMovement(ctx context.Context, mv model.Movement) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return insertMovement(ctx, tx, mv)
	})
}

func (r *SQLiteRecorder) RewriteBalances(ctx context.Context, corrected []model.Movement, audit model.Movement) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE movements SET balance = ? WHERE seq = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range corrected {
			if _, err := stmt.ExecContext(ctx, m.Balance.String(), m.Seq); err != nil {
				return fmt.Errorf("rewrite movement %d: %w", m.Seq, err)
			}
		}
		return insertMovement(ctx, tx, audit)
	})
}

func (r *SQLiteRecorder) SaveSnapshot(ctx context.Context, s model.PerformanceSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Closed rows are never overwritten.
	_, err := r.db.ExecContext(ctx, `INSERT INTO performance_snapshots
		(tipster_id, period, period_key, tips, wins, losses, win_rate, roi,
		 total_stake, profit, avg_odds, max_drawdown, max_loss_streak, gross_won, gross_lost, closed, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(tipster_id, period, period_key) DO UPDATE SET
			tips = excluded.tips, wins = excluded.wins, losses = excluded.losses,
			win_rate = excluded.win_rate, roi = excluded.roi,
			total_stake = excluded.total_stake, profit = excluded.profit,
			avg_odds = excluded.avg_odds, max_drawdown = excluded.max_drawdown,
			max_loss_streak = excluded.max_loss_streak,
			gross_won = excluded.gross_won, gross_lost = excluded.gross_lost,
			closed = excluded.closed, updated_at = excluded.updated_at
		WHERE performance_snapshots.closed = 0`,
		s.TipsterID, string(s.Period), s.PeriodKey, s.Tips, s.Wins, s.Losses, s.WinRate, s.ROI,
		s.TotalStake.String(), s.Profit.String(), s.AvgOdds, s.MaxDrawdown.String(), s.MaxLossStreak,
		s.GrossWon.String(), s.GrossLost.String(), s.Closed, s.UpdatedAt.UnixNano(),
	)
	return err
}

func (r *SQLiteRecorder) LoadSnapshots(ctx context.Context) ([]model.PerformanceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT tipster_id, period, period_key, tips, wins, losses,
		win_rate, roi, total_stake, profit, avg_odds, max_drawdown, max_loss_streak,
		gross_won, gross_lost, closed, updated_at
		FROM performance_snapshots ORDER BY tipster_id, period, period_key`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.PerformanceSnapshot
	for rows.Next() {
		var (
			s                       model.PerformanceSnapshot
			period                  string
			stake, profit, drawdown string
			won, lost               string
			updated                 int64
		)
		if err := rows.Scan(&s.TipsterID, &period, &s.PeriodKey, &s.Tips, &s.Wins, &s.Losses,
			&s.WinRate, &s.ROI, &stake, &profit, &s.AvgOdds, &drawdown, &s.MaxLossStreak,
			&won, &lost, &s.Closed, &updated); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Period = model.Period(period)
		s.UpdatedAt = fromNanos(updated)
		if s.TotalStake, err = decimal.NewFromString(stake); err != nil {
			return nil, err
		}
		if s.Profit, err = decimal.NewFromString(profit); err != nil {
			return nil, err
		}
		if s.MaxDrawdown, err = decimal.NewFromString(drawdown); err != nil {
			return nil, err
		}
		if s.GrossWon, err = decimal.NewFromString(won); err != nil {
			return nil, err
		}
		if s.GrossLost, err = decimal.NewFromString(lost); err != nil {
			return nil, err
		}
		if !s.GrossLost.IsZero() {
			s.ProfitFactor = s.GrossWon.Div(s.GrossLost).InexactFloat64()
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) SaveAlert(ctx context.Context, a model.RiskAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var value sql.NullString
	if a.Value != nil {
		value = sql.NullString{String: a.Value.String(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO risk_alerts
		(id, type, subject, severity, score, title, description, detected_at,
		 value, recommendation, active, resolved_at, resolved_by)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity, score = excluded.score,
			title = excluded.title, description = excluded.description,
			detected_at = excluded.detected_at, value = excluded.value,
			recommendation = excluded.recommendation, active = excluded.active,
			resolved_at = excluded.resolved_at, resolved_by = excluded.resolved_by`,
		a.ID, string(a.Type), a.Subject, string(a.Severity), a.Score, a.Title, a.Description,
		a.DetectedAt.UnixNano(), value, a.Recommendation, a.Active, nullTime(a.ResolvedAt), a.ResolvedBy,
	)
	return err
}

func (r *SQLiteRecorder) LoadAlerts(ctx context.Context) ([]model.RiskAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT id, type, subject, severity, score, title, description,
		detected_at, value, recommendation, active, resolved_at, resolved_by
		FROM risk_alerts ORDER BY detected_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []model.RiskAlert
	for rows.Next() {
		var (
			a             model.RiskAlert
			typ, severity string
			detected      int64
			value         sql.NullString
			resolved      sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &typ, &a.Subject, &severity, &a.Score, &a.Title, &a.Description,
			&detected, &value, &a.Recommendation, &a.Active, &resolved, &a.ResolvedBy); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = model.AlertType(typ)
		a.Severity = model.Severity(severity)
		a.DetectedAt = fromNanos(detected)
		if value.Valid {
			v, err := decimal.NewFromString(value.String)
			if err != nil {
				return nil, fmt.Errorf("alert %s value: %w", a.ID, err)
			}
			a.Value = &v
		}
		if resolved.Valid {
			at := fromNanos(resolved.Int64)
			a.ResolvedAt = &at
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}

// inTx runs fn in one transaction; any error rolls the whole unit back.
func (r *SQLiteRecorder) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.log.Errorf("rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func insertBet(ctx context.Context, tx *sql.Tx, b model.Bet) error {
	var tipster sql.NullInt64
	if b.TipsterID != nil {
		tipster = sql.NullInt64{Int64: *b.TipsterID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO bets
		(id, timestamp, competition, home_team, away_team, bet_type, odds, stake,
		 outcome, profit_loss, note, tipster_id, source, settled_at, created_by, settled_by)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Timestamp.UnixNano(), b.Competition, b.HomeTeam, b.AwayTeam, b.BetType,
		b.Odds, b.Stake.String(), string(b.Outcome), b.ProfitLoss.String(), b.Note,
		tipster, b.Source, nullTime(b.SettledAt), b.CreatedBy, b.SettledBy,
	)
	if err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, m model.Movement) error {
	var betID sql.NullInt64
	if m.BetID != nil {
		betID = sql.NullInt64{Int64: *m.BetID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO movements
		(seq, date, balance, delta, description, bet_id, auto_generated, actor)
		VALUES (?,?,?,?,?,?,?,?)`,
		m.Seq, m.Date.UnixNano(), m.Balance.String(), m.Delta.String(), m.Description,
		betID, m.AutoGenerated, m.Actor,
	)
	if err != nil {
		return fmt.Errorf("insert movement %d: %w", m.Seq, err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
