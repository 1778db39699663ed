package answercache

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = "1"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS question_stats (
	fingerprint      TEXT PRIMARY KEY,
	question         TEXT NOT NULL,
	keywords         TEXT NOT NULL DEFAULT '',
	hit_count        INTEGER NOT NULL DEFAULT 0,
	total_latency_ms REAL NOT NULL DEFAULT 0,
	first_seen_at    TIMESTAMP NOT NULL,
	last_seen_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS response_feedback (
	fingerprint TEXT PRIMARY KEY,
	positive    INTEGER NOT NULL DEFAULT 0,
	negative    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS promoted_entries (
	fingerprint        TEXT PRIMARY KEY,
	canonical_question TEXT NOT NULL,
	canonical_answer   TEXT NOT NULL,
	promoted_at        TIMESTAMP NOT NULL
);
`

type statsRow struct {
	Fingerprint    string    `db:"fingerprint"`
	Question       string    `db:"question"`
	Keywords       string    `db:"keywords"`
	HitCount       int       `db:"hit_count"`
	TotalLatencyMs float64   `db:"total_latency_ms"`
	FirstSeenAt    time.Time `db:"first_seen_at"`
	LastSeenAt     time.Time `db:"last_seen_at"`
}

type feedbackRow struct {
	Fingerprint string `db:"fingerprint"`
	Positive    int    `db:"positive"`
	Negative    int    `db:"negative"`
}

type promotedRow struct {
	Fingerprint       string    `db:"fingerprint"`
	CanonicalQuestion string    `db:"canonical_question"`
	CanonicalAnswer   string    `db:"canonical_answer"`
	PromotedAt        time.Time `db:"promoted_at"`
}

func openSqlite(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO NOTHING`,
		schemaVersion); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// load reads all three tables into memory at startup
func (c *Cache) load(ctx context.Context) error {
	var stats []statsRow
	if err := c.db.SelectContext(ctx, &stats, `SELECT * FROM question_stats`); err != nil {
		return err
	}
	var feedback []feedbackRow
	if err := c.db.SelectContext(ctx, &feedback, `SELECT * FROM response_feedback`); err != nil {
		return err
	}
	var promoted []promotedRow
	if err := c.db.SelectContext(ctx, &promoted, `SELECT * FROM promoted_entries`); err != nil {
		return err
	}

	votes := make(map[string]feedbackRow, len(feedback))
	for _, f := range feedback {
		votes[f.Fingerprint] = f
	}

	for _, s := range stats {
		e := &entry{
			Fingerprint:    s.Fingerprint,
			Question:       s.Question,
			Keywords:       splitKeywords(s.Keywords),
			HitCount:       s.HitCount,
			TotalLatencyMs: s.TotalLatencyMs,
			FirstSeenAt:    s.FirstSeenAt,
			LastSeenAt:     s.LastSeenAt,
		}
		if v, ok := votes[s.Fingerprint]; ok {
			e.PositiveVotes, e.NegativeVotes = v.Positive, v.Negative
		}
		c.entries[s.Fingerprint] = e
	}
	for _, p := range promoted {
		if e, ok := c.entries[p.Fingerprint]; ok {
			e.Answer = p.CanonicalAnswer
			e.Promoted = true
			e.PromotedAt = p.PromotedAt
		}
	}

	var version string
	err := c.db.GetContext(ctx, &version, `SELECT value FROM meta WHERE key = 'embedding_version'`)
	if err == nil {
		c.embeddingVersion = version
	}
	return nil
}

// persist writes the dirty set in one transaction
func (c *Cache) persist(ctx context.Context, dirty []*entry, version string) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range dirty {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO question_stats
				(fingerprint, question, keywords, hit_count, total_latency_ms, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(fingerprint) DO UPDATE SET
				hit_count = excluded.hit_count,
				total_latency_ms = excluded.total_latency_ms,
				last_seen_at = excluded.last_seen_at`,
			e.Fingerprint, e.Question, joinKeywords(e.Keywords),
			e.HitCount, e.TotalLatencyMs, e.FirstSeenAt, e.LastSeenAt,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO response_feedback (fingerprint, positive, negative)
			VALUES (?, ?, ?)
			ON CONFLICT(fingerprint) DO UPDATE SET
				positive = excluded.positive,
				negative = excluded.negative`,
			e.Fingerprint, e.PositiveVotes, e.NegativeVotes,
		); err != nil {
			return err
		}
		if e.Promoted {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO promoted_entries (fingerprint, canonical_question, canonical_answer, promoted_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(fingerprint) DO UPDATE SET
					canonical_answer = excluded.canonical_answer,
					promoted_at = excluded.promoted_at`,
				e.Fingerprint, e.Question, e.Answer, e.PromotedAt,
			); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM promoted_entries WHERE fingerprint = ?`, e.Fingerprint); err != nil {
				return err
			}
		}
	}

	if version != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES ('embedding_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, version); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func joinKeywords(kw []string) string  { return strings.Join(kw, " ") }
func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
