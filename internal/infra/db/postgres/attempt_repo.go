package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

const schema = `
CREATE TABLE IF NOT EXISTS patch_attempts (
  id            TEXT PRIMARY KEY,
  run_id        TEXT NOT NULL,
  finding_id    TEXT NOT NULL,
  finding_name  TEXT NOT NULL,
  file          TEXT NOT NULL,
  attempt       INTEGER NOT NULL,
  state         TEXT NOT NULL,
  verification  TEXT NOT NULL DEFAULT '',
  diagnostic    TEXT,
  error_kind    TEXT NOT NULL DEFAULT '',
  diff_path     TEXT NOT NULL DEFAULT '',
  commit_sha    TEXT NOT NULL DEFAULT '',
  duration_ms   BIGINT NOT NULL DEFAULT 0,
  created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patch_attempts_run ON patch_attempts (run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_patch_attempts_finding ON patch_attempts (finding_id, created_at);`

type AttemptRepository struct{ db *sql.DB }

func NewAttemptRepository(db *sql.DB) *AttemptRepository { return &AttemptRepository{db: db} }

// Migrate creates the audit table when missing.
func (r *AttemptRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save insert/update an attempt record
func (r *AttemptRepository) Save(ctx context.Context, a *patches.AttemptRecord) error {
	const q = `
INSERT INTO patch_attempts
(id, run_id, finding_id, finding_name, file, attempt, state,
 verification, diagnostic, error_kind, diff_path, commit_sha, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,
        $8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
 state = EXCLUDED.state,
 verification = EXCLUDED.verification,
 diagnostic = EXCLUDED.diagnostic,
 error_kind = EXCLUDED.error_kind,
 diff_path = EXCLUDED.diff_path,
 duration_ms = EXCLUDED.duration_ms;`

	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		a.ID, stringOrDash(a.RunID), stringOrDash(a.FindingID), stringOrDash(a.FindingName),
		stringOrDash(a.File), a.Attempt, stringOrDash(string(a.State)),
		string(a.Verification), nullString(a.Diagnostic), string(a.ErrorKind), a.DiffPath, a.CommitSHA, a.DurationMS, a.CreatedAt,
	)
	return err
}

// List returns attempts newest first
func (r *AttemptRepository) List(ctx context.Context, f patches.AttemptFilter) ([]*patches.AttemptRecord, error) {
	q, args := listQuery(f)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*patches.AttemptRecord
	for rows.Next() {
		var a patches.AttemptRecord
		var state, verification, kind string
		var diagnostic sql.NullString
		if err := rows.Scan(
			&a.ID, &a.RunID, &a.FindingID, &a.FindingName, &a.File, &a.Attempt, &state,
			&verification, &diagnostic, &kind, &a.DiffPath, &a.CommitSHA, &a.DurationMS, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.State = patches.State(state)
		a.Verification = findings.Verification(verification)
		a.Diagnostic = diagnostic.String
		a.ErrorKind = patches.Kind(kind)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func listQuery(f patches.AttemptFilter) (string, []any) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var where []string
	var args []any
	if f.RunID != "" {
		args = append(args, f.RunID)
		where = append(where, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if f.FindingID != "" {
		args = append(args, f.FindingID)
		where = append(where, fmt.Sprintf("finding_id = $%d", len(args)))
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString(`
SELECT id, run_id, finding_id, finding_name, file, attempt, state,
       verification, diagnostic, error_kind, diff_path, commit_sha, duration_ms, created_at
FROM patch_attempts`)
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, "\nORDER BY created_at DESC, id DESC\nLIMIT $%d;", len(args))
	return b.String(), args
}

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
