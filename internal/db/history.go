package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a battle id is unknown.
var ErrNotFound = errors.New("history: battle not found")

// BattleRecord is one battle as seen from this peer.
type BattleRecord struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Mine      string     `json:"mine"`
	Opponent  string     `json:"opponent"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Winner    string     `json:"winner,omitempty"`
	Loser     string     `json:"loser,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Turns     int        `json:"turns"`
}

// TurnRow is one resolved turn.
type TurnRow struct {
	BattleID      string    `json:"battle_id"`
	Turn          int       `json:"turn"`
	Attacker      string    `json:"attacker"`
	Defender      string    `json:"defender"`
	Move          string    `json:"move"`
	Damage        int       `json:"damage"`
	RemainingHP   int       `json:"remaining_hp"`
	Effectiveness float64   `json:"effectiveness"`
	Status        string    `json:"status,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// HistoryStore persists battles and their turns.
type HistoryStore struct {
	db *Database
}

// NewHistoryStore opens the database at dbPath and migrates it.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{db: database}
	if err := hs.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return hs, nil
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// migrate creates the schema. Times are unix milliseconds.
func (hs *HistoryStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS battles (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL DEFAULT '',
			mine TEXT NOT NULL DEFAULT '',
			opponent TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			winner TEXT NOT NULL DEFAULT '',
			loser TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			turns INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS turns (
			battle_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			attacker TEXT NOT NULL,
			defender TEXT NOT NULL,
			move TEXT NOT NULL,
			damage INTEGER NOT NULL,
			remaining_hp INTEGER NOT NULL,
			effectiveness REAL NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL,
			PRIMARY KEY (battle_id, turn),
			FOREIGN KEY (battle_id) REFERENCES battles(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_battles_started_at ON battles(started_at);
	`

	if _, err := hs.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("history schema migrated")
	return nil
}

// RecordBattle inserts a battle or fills in the details of a row created
// by an earlier turn or result.
func (hs *HistoryStore) RecordBattle(ctx context.Context, b BattleRecord) error {
	if b.ID == "" {
		return errors.New("history: battle id is required")
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now()
	}
	_, err := hs.db.Exec(ctx, `
		INSERT INTO battles (id, role, mine, opponent, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			mine = excluded.mine,
			opponent = excluded.opponent,
			started_at = MIN(battles.started_at, excluded.started_at)`,
		b.ID, b.Role, b.Mine, b.Opponent, b.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record battle %s: %w", b.ID, err)
	}
	return nil
}

// RecordTurn stores a turn outcome. A later record for the same turn
// replaces the earlier one.
func (hs *HistoryStore) RecordTurn(ctx context.Context, t TurnRow) error {
	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now()
	}
	return hs.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := ensureBattle(ctx, tx, t.BattleID, t.RecordedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO turns
				(battle_id, turn, attacker, defender, move, damage, remaining_hp, effectiveness, status, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.BattleID, t.Turn, t.Attacker, t.Defender, t.Move, t.Damage, t.RemainingHP,
			t.Effectiveness, t.Status, t.RecordedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record turn %d of %s: %w", t.Turn, t.BattleID, err)
		}
		return nil
	})
}

// FinishBattle stores the result.
func (hs *HistoryStore) FinishBattle(ctx context.Context, id, winner, loser, reason string, turns int, at time.Time) error {
	return hs.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := ensureBattle(ctx, tx, id, at); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE battles SET ended_at = ?, winner = ?, loser = ?, reason = ?, turns = ?
			WHERE id = ?`,
			at.UnixMilli(), winner, loser, reason, turns, id)
		if err != nil {
			return fmt.Errorf("failed to finish battle %s: %w", id, err)
		}
		return nil
	})
}

func ensureBattle(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	if id == "" {
		return errors.New("history: battle id is required")
	}
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO battles (id, started_at) VALUES (?, ?)", id, at.UnixMilli())
	return err
}

const battleColumns = "id, role, mine, opponent, started_at, ended_at, winner, loser, reason, turns"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBattle(row rowScanner) (BattleRecord, error) {
	var (
		b       BattleRecord
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&b.ID, &b.Role, &b.Mine, &b.Opponent, &started, &ended,
		&b.Winner, &b.Loser, &b.Reason, &b.Turns); err != nil {
		return BattleRecord{}, err
	}
	b.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		b.EndedAt = &t
	}
	return b, nil
}

// ListBattles returns the most recent battles first.
func (hs *HistoryStore) ListBattles(ctx context.Context, limit int) ([]BattleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := hs.db.Query(ctx,
		"SELECT "+battleColumns+" FROM battles ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list battles: %w", err)
	}
	defer rows.Close()

	var out []BattleRecord
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Battle returns one battle by id.
func (hs *HistoryStore) Battle(ctx context.Context, id string) (BattleRecord, error) {
	b, err := scanBattle(hs.db.QueryRow(ctx, "SELECT "+battleColumns+" FROM battles WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return BattleRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, err
}

// Turns returns the turns of a battle in order.
func (hs *HistoryStore) Turns(ctx context.Context, battleID string) ([]TurnRow, error) {
	rows, err := hs.db.Query(ctx, `
		SELECT battle_id, turn, attacker, defender, move, damage, remaining_hp, effectiveness, status, recorded_at
		FROM turns WHERE battle_id = ? ORDER BY turn`, battleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRow
	for rows.Next() {
		var (
			t        TurnRow
			recorded int64
		)
		if err := rows.Scan(&t.BattleID, &t.Turn, &t.Attacker, &t.Defender, &t.Move, &t.Damage,
			&t.RemainingHP, &t.Effectiveness, &t.Status, &recorded); err != nil {
			return nil, err
		}
		t.RecordedAt = time.UnixMilli(recorded)
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes battles started before cutoff, with their turns.
func (hs *HistoryStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := hs.db.Transaction(ctx, func(tx *sql.Tx) error {
		ms := cutoff.UnixMilli()
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM turns WHERE battle_id IN (SELECT id FROM battles WHERE started_at < ?)", ms); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM battles WHERE started_at < ?", ms)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	if n > 0 {
		log.Info().Int64("battles", n).Time("cutoff", cutoff).Msg("pruned battle history")
	}
	return n, nil
}
