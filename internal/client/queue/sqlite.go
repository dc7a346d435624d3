package queue

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/avdotin/fitplan/internal/client/seal"
	"github.com/avdotin/fitplan/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ack_queue (
	op_key          TEXT PRIMARY KEY,
	payload         BLOB NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_eligible_at INTEGER NOT NULL,
	enqueued_at     INTEGER NOT NULL
);
`

// SQLite is a durable queue backed by a local database file. Payloads are
// sealed at rest; only a keyed hash of the operation identity is stored in
// the clear for idempotent enqueue.
type SQLite struct {
	db          *sql.DB
	sealer      *seal.Sealer
	backoff     Backoff
	retryable   RetryablePredicate
	sendTimeout time.Duration
	now         func() time.Time
}

// OpenSQLite opens (or creates) the queue database at path.
func OpenSQLite(path string, sealer *seal.Sealer, backoff Backoff, retryable RetryablePredicate, sendTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// one writer at a time keeps SQLITE_BUSY out of the replay path
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}
	return &SQLite{
		db:          db,
		sealer:      sealer,
		backoff:     backoff,
		retryable:   retryable,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}, nil
}

// WithClock substitutes the time source. Test use.
func (q *SQLite) WithClock(now func() time.Time) *SQLite {
	q.now = now
	return q
}

func opKey(op model.AcknowledgmentRequest) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", op.Version, op.ComputedAt)))
	return hex.EncodeToString(h[:])
}

// Enqueue stores op unless an identical operation is already pending.
func (q *SQLite) Enqueue(op model.AcknowledgmentRequest) error {
	key := opKey(op)
	plain, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode queued op: %w", err)
	}
	sealed, err := q.sealer.Seal(plain, []byte(key))
	if err != nil {
		return fmt.Errorf("seal queued op: %w", err)
	}
	now := q.now().Unix()
	_, err = q.db.Exec(
		`INSERT INTO ack_queue (op_key, payload, attempts, next_eligible_at, enqueued_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (op_key) DO NOTHING`,
		key, sealed, now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

type sqliteRow struct {
	key      string
	payload  []byte
	attempts int
}

// Drain replays eligible operations in FIFO order. Each send gets its own
// timeout; cancelling ctx stops the pass after the in-flight send.
func (q *SQLite) Drain(ctx context.Context, send Sender) (DrainResult, error) {
	var res DrainResult

	rows, err := q.db.QueryContext(ctx,
		`SELECT op_key, payload, attempts FROM ack_queue
		 WHERE next_eligible_at <= ? ORDER BY enqueued_at, rowid`,
		q.now().Unix(),
	)
	if err != nil {
		return res, fmt.Errorf("drain query: %w", err)
	}
	var eligible []sqliteRow
	for rows.Next() {
		var r sqliteRow
		if err := rows.Scan(&r.key, &r.payload, &r.attempts); err != nil {
			rows.Close()
			return res, fmt.Errorf("drain scan: %w", err)
		}
		eligible = append(eligible, r)
	}
	if err := rows.Close(); err != nil {
		return res, err
	}

	for _, r := range eligible {
		if err := ctx.Err(); err != nil {
			break
		}

		plain, err := q.sealer.Open(r.payload, []byte(r.key))
		if err != nil {
			// undecryptable rows can never be sent again
			if rmErr := q.remove(r.key); rmErr != nil {
				return res, rmErr
			}
			res.Failures = append(res.Failures, Failure{Err: fmt.Errorf("unseal queued op: %w", err)})
			continue
		}
		var op model.AcknowledgmentRequest
		if err := json.Unmarshal(plain, &op); err != nil {
			if rmErr := q.remove(r.key); rmErr != nil {
				return res, rmErr
			}
			res.Failures = append(res.Failures, Failure{Err: fmt.Errorf("decode queued op: %w", err)})
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, q.sendTimeout)
		sendErr := send(sendCtx, op)
		cancel()

		switch {
		case sendErr == nil:
			if err := q.remove(r.key); err != nil {
				return res, err
			}
			res.Succeeded++
		case q.retryable(sendErr):
			next := q.now().Add(q.backoff.NextDelay(r.attempts + 1)).Unix()
			if _, err := q.db.Exec(`UPDATE ack_queue SET attempts = attempts + 1, next_eligible_at = ? WHERE op_key = ?`,
				next, r.key); err != nil {
				return res, fmt.Errorf("reschedule queued op: %w", err)
			}
		default:
			if err := q.remove(r.key); err != nil {
				return res, err
			}
			res.Failures = append(res.Failures, Failure{Op: op, Err: sendErr})
		}
	}

	if err := q.db.QueryRow(`SELECT COUNT(*) FROM ack_queue`).Scan(&res.StillQueued); err != nil {
		return res, fmt.Errorf("drain count: %w", err)
	}
	return res, nil
}

func (q *SQLite) remove(key string) error {
	if _, err := q.db.Exec(`DELETE FROM ack_queue WHERE op_key = ?`, key); err != nil {
		return fmt.Errorf("remove queued op: %w", err)
	}
	return nil
}

// Clear drops all pending operations.
func (q *SQLite) Clear() error {
	_, err := q.db.Exec(`DELETE FROM ack_queue`)
	return err
}

// Statistics reports the pending count and the age of the oldest entry.
func (q *SQLite) Statistics() (Statistics, error) {
	var st Statistics
	var oldest sql.NullInt64
	err := q.db.QueryRow(`SELECT COUNT(*), MIN(enqueued_at) FROM ack_queue`).
		Scan(&st.TotalCount, &oldest)
	if err != nil {
		return st, fmt.Errorf("queue statistics: %w", err)
	}
	if oldest.Valid {
		t := time.Unix(oldest.Int64, 0)
		st.OldestEnqueuedAt = &t
	}
	return st, nil
}

// Close releases the database handle.
func (q *SQLite) Close() error { return q.db.Close() }
