package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

const schema = `
CREATE TABLE IF NOT EXISTS patch_attempts (
  id            CHAR(26)     NOT NULL PRIMARY KEY,
  run_id        VARCHAR(64)  NOT NULL,
  finding_id    VARCHAR(64)  NOT NULL,
  finding_name  VARCHAR(255) NOT NULL,
  file          VARCHAR(1024) NOT NULL,
  attempt       INT          NOT NULL,
  state         VARCHAR(32)  NOT NULL,
  verification  VARCHAR(16)  NOT NULL DEFAULT '',
  diagnostic    TEXT         NULL,
  error_kind    VARCHAR(32)  NOT NULL DEFAULT '',
  diff_path     VARCHAR(512) NOT NULL DEFAULT '',
  commit_sha    VARCHAR(64)  NOT NULL DEFAULT '',
  duration_ms   BIGINT       NOT NULL DEFAULT 0,
  created_at    DATETIME(3)  NOT NULL,
  KEY idx_patch_attempts_run (run_id, created_at),
  KEY idx_patch_attempts_finding (finding_id, created_at)
);`

type AttemptRepository struct {
	db *sql.DB
}

func NewAttemptRepository(db *sql.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

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
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  state=VALUES(state), verification=VALUES(verification), diagnostic=VALUES(diagnostic), error_kind=VALUES(error_kind),
  diff_path=VALUES(diff_path), duration_ms=VALUES(duration_ms);
`
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
		where = append(where, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.FindingID != "" {
		where = append(where, "finding_id=?")
		args = append(args, f.FindingID)
	}

	var b strings.Builder
	b.WriteString(`
SELECT id, run_id, finding_id, finding_name, file, attempt, state,
       verification, diagnostic, error_kind, diff_path, commit_sha, duration_ms, created_at
FROM patch_attempts`)
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}
	b.WriteString("\nORDER BY created_at DESC, id DESC\nLIMIT ?;")
	args = append(args, limit)
	return b.String(), args
}
