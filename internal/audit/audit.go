// Package audit records security-relevant actions in a queryable trail.
//
// Every pairing, credential and revocation action lands here with its
// actor and source address. The trail is append-only from the
// application's point of view; rows age out via the retention sweep.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/emberhaus/emberlink/internal/infrastructure/database"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

// Actor types.
const (
	ActorAdmin  = "admin"
	ActorClient = "client"
	ActorSystem = "system"
)

// Actions recorded in the trail.
const (
	ActionLogin            = "auth.login"
	ActionLoginFailed      = "auth.login_failed"
	ActionPairingStarted   = "pairing.started"
	ActionPairingVerified  = "pairing.verified"
	ActionPairingFailed    = "pairing.verify_failed"
	ActionPairingCompleted = "pairing.completed"
	ActionPairingCancelled = "pairing.cancelled"
	ActionClientRevoked    = "client.revoked"
	ActionClientDeleted    = "client.deleted"
	ActionClientRescoped   = "client.rescoped"
	ActionAreaCreated      = "area.created"
)

// Entry is one audit record.
type Entry struct {
	ID          int64     `json:"id"`
	OccurredAt  time.Time `json:"occurred_at"`
	ActorType   string    `json:"actor_type"`
	ActorID     string    `json:"actor_id,omitempty"`
	Action      string    `json:"action"`
	SubjectType string    `json:"subject_type,omitempty"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	SourceIP    string    `json:"source_ip,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	Action string
	Limit  int
	Offset int
}

// Trail records and queries audit entries.
type Trail struct {
	db     *database.DB
	logger *logging.Logger
}

// NewTrail creates an audit trail backed by the given database.
func NewTrail(db *database.DB, logger *logging.Logger) *Trail {
	if logger == nil {
		logger = logging.Default()
	}
	return &Trail{db: db, logger: logger}
}

// Record appends an entry. A failed write is logged but never propagated;
// auditing must not break the action being audited.
func (t *Trail) Record(e Entry) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = database.NowUTC()
	}

	_, err := t.db.Exec(`
		INSERT INTO audit_logs
			(occurred_at, actor_type, actor_id, action, subject_type, subject_id, detail, source_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		database.FormatTime(e.OccurredAt), e.ActorType, database.NullString(e.ActorID),
		e.Action, database.NullString(e.SubjectType), database.NullString(e.SubjectID),
		database.NullString(e.Detail), database.NullString(e.SourceIP),
	)
	if err != nil {
		t.logger.Error("audit write failed", "action", e.Action, "error", err)
	}
}

// List returns entries newest first, optionally filtered by action.
func (t *Trail) List(f Filter) ([]*Entry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	query := `
		SELECT id, occurred_at, actor_type, actor_id, action, subject_type, subject_id, detail, source_ip
		FROM audit_logs`
	var args []any
	if f.Action != "" {
		query += " WHERE action = ?"
		args = append(args, f.Action)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := t.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit trail: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e           Entry
			occurredAt  string
			actorID     sql.NullString
			subjectType sql.NullString
			subjectID   sql.NullString
			detail      sql.NullString
			sourceIP    sql.NullString
		)
		if err := rows.Scan(&e.ID, &occurredAt, &e.ActorType, &actorID, &e.Action,
			&subjectType, &subjectID, &detail, &sourceIP); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		if e.OccurredAt, err = database.ParseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		e.ActorID = actorID.String
		e.SubjectType = subjectType.String
		e.SubjectID = subjectID.String
		e.Detail = detail.String
		e.SourceIP = sourceIP.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Purge removes entries older than the cutoff.
func (t *Trail) Purge(olderThan time.Duration) (int64, error) {
	cutoff := database.FormatTime(database.NowUTC().Add(-olderThan))
	res, err := t.db.Exec("DELETE FROM audit_logs WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging audit trail: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
