package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const profileColumns = `user_id, name, bio, aura, followers, following, created_at, updated_at`

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.Name, &p.Bio, &p.Aura, &p.Followers, &p.Following, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetProfile returns the profile for userID, creating it with default field
// values on first reference. It never fails for a missing row.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return Profile{}, fmt.Errorf("ensure profile: %w", err)
	}
	profile, err := scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id=$1`, userID))
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return profile, nil
}

// UpdateProfile applies mutate under a row lock so concurrent updates to the
// same profile cannot lose writes. The row is created first if absent.
func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, mutate func(*Profile)) (Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("begin profile update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return Profile{}, fmt.Errorf("ensure profile: %w", err)
	}

	var p Profile
	err = tx.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id=$1 FOR UPDATE`, userID).
		Scan(&p.UserID, &p.Name, &p.Bio, &p.Aura, &p.Followers, &p.Following, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("lock profile: %w", err)
	}

	mutate(&p)

	if _, err := tx.ExecContext(ctx, `
		UPDATE profiles
		SET name=$2, bio=$3, aura=$4, followers=$5, following=$6, updated_at=NOW()
		WHERE user_id=$1
	`, userID, p.Name, p.Bio, p.Aura, p.Followers, p.Following); err != nil {
		return Profile{}, fmt.Errorf("write profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Profile{}, fmt.Errorf("commit profile update: %w", err)
	}
	return p, nil
}

// NextPublicationNumber allocates the next publication number. The UPDATE
// takes the counter row lock, so concurrent allocations serialize and every
// caller observes a distinct value.
func (s *PostgresStore) NextPublicationNumber(ctx context.Context) (int64, error) {
	number, err := allocatePublicationNumber(ctx, s.db)
	if err != nil {
		return 0, err
	}
	return number, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func allocatePublicationNumber(ctx context.Context, q execQuerier) (int64, error) {
	var number int64
	err := q.QueryRowContext(ctx, `
		UPDATE counters SET value = value + 1 WHERE name='publication' RETURNING value
	`).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("allocate publication number: %w", err)
	}
	return number, nil
}

const submissionColumns = `token_hash, submitter_id, body, status, card_ref, created_at, resolved_at`

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (token_hash, submitter_id, body, card_ref)
		VALUES ($1, $2, $3, $4)
	`, sub.TokenHash, sub.SubmitterID, sub.Body, sub.CardRef)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetSubmissionCard(ctx context.Context, tokenHash, cardRef string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE submissions SET card_ref=$2 WHERE token_hash=$1`, tokenHash, cardRef)
	if err != nil {
		return fmt.Errorf("set submission card: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, tokenHash string) (Submission, error) {
	return scanSubmission(s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE token_hash=$1`, tokenHash))
}

func scanSubmission(row *sql.Row) (Submission, error) {
	var sub Submission
	err := row.Scan(&sub.TokenHash, &sub.SubmitterID, &sub.Body, &sub.Status, &sub.CardRef, &sub.CreatedAt, &sub.ResolvedAt)
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

func (s *PostgresStore) ListPendingSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE status=$1
		ORDER BY created_at ASC
		LIMIT $2
	`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.TokenHash, &sub.SubmitterID, &sub.Body, &sub.Status, &sub.CardRef, &sub.CreatedAt, &sub.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

type ApproveResult struct {
	Submission Submission
	Number     int64
	Profile    Profile
}

// ApproveSubmission resolves a pending submission in a single transaction:
// check-and-set the status, allocate the publication number, credit the
// submitter's aura, record the publication and the decision. The CAS runs
// first; a duplicate delivery blocks on the row lock, then matches zero rows
// and is reported with resolved=false alongside the stored submission.
// Unknown token hashes return sql.ErrNoRows.
func (s *PostgresStore) ApproveSubmission(ctx context.Context, tokenHash, decidedBy string) (ApproveResult, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ApproveResult{}, false, fmt.Errorf("begin approve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub, err := scanSubmission(tx.QueryRowContext(ctx, `
		UPDATE submissions SET status=$2, resolved_at=NOW()
		WHERE token_hash=$1 AND status=$3
		RETURNING `+submissionColumns+`
	`, tokenHash, StatusApproved, StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetSubmission(ctx, tokenHash)
		if getErr != nil {
			return ApproveResult{}, false, getErr
		}
		return ApproveResult{Submission: current}, false, nil
	}
	if err != nil {
		return ApproveResult{}, false, fmt.Errorf("resolve submission: %w", err)
	}

	number, err := allocatePublicationNumber(ctx, tx)
	if err != nil {
		return ApproveResult{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, sub.SubmitterID); err != nil {
		return ApproveResult{}, false, fmt.Errorf("ensure profile: %w", err)
	}
	profile, err := scanProfile(tx.QueryRowContext(ctx, `
		UPDATE profiles SET aura = aura + 1, updated_at=NOW()
		WHERE user_id=$1
		RETURNING `+profileColumns+`
	`, sub.SubmitterID))
	if err != nil {
		return ApproveResult{}, false, fmt.Errorf("credit aura: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO publications (number, token_hash, body)
		VALUES ($1, $2, $3)
	`, number, sub.TokenHash, sub.Body); err != nil {
		return ApproveResult{}, false, fmt.Errorf("insert publication: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decision_log (token_hash, outcome, decided_by, publication_number)
		VALUES ($1, $2, $3, $4)
	`, sub.TokenHash, OutcomeApproved, decidedBy, number); err != nil {
		return ApproveResult{}, false, fmt.Errorf("insert decision log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ApproveResult{}, false, fmt.Errorf("commit approve: %w", err)
	}
	return ApproveResult{Submission: sub, Number: number, Profile: profile}, true, nil
}

// RejectSubmission resolves a pending submission as rejected. No publication
// number is allocated and no profile is touched. Duplicate deliveries are
// reported with resolved=false; unknown token hashes return sql.ErrNoRows.
func (s *PostgresStore) RejectSubmission(ctx context.Context, tokenHash, decidedBy string) (Submission, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Submission{}, false, fmt.Errorf("begin reject: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub, err := scanSubmission(tx.QueryRowContext(ctx, `
		UPDATE submissions SET status=$2, resolved_at=NOW()
		WHERE token_hash=$1 AND status=$3
		RETURNING `+submissionColumns+`
	`, tokenHash, StatusRejected, StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetSubmission(ctx, tokenHash)
		if getErr != nil {
			return Submission{}, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return Submission{}, false, fmt.Errorf("resolve submission: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decision_log (token_hash, outcome, decided_by)
		VALUES ($1, $2, $3)
	`, sub.TokenHash, OutcomeRejected, decidedBy); err != nil {
		return Submission{}, false, fmt.Errorf("insert decision log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Submission{}, false, fmt.Errorf("commit reject: %w", err)
	}
	return sub, true, nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, outcome string, limit int) ([]DecisionLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, token_hash, outcome, decided_by, publication_number, decided_at
		FROM decision_log
	`
	args := []any{}
	if outcome != "" {
		query += ` WHERE outcome=$1`
		args = append(args, outcome)
	}
	query += fmt.Sprintf(` ORDER BY decided_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionLogEntry, 0)
	for rows.Next() {
		var entry DecisionLogEntry
		if err := rows.Scan(&entry.ID, &entry.TokenHash, &entry.Outcome, &entry.DecidedBy, &entry.PublicationNumber, &entry.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListPublications(ctx context.Context, limit int) ([]Publication, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, token_hash, body, published_at
		FROM publications
		ORDER BY number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	items := make([]Publication, 0)
	for rows.Next() {
		var pub Publication
		if err := rows.Scan(&pub.Number, &pub.TokenHash, &pub.Body, &pub.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		items = append(items, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (pending int, published int, profiles int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM submissions WHERE status='pending'),
			(SELECT COUNT(*) FROM publications),
			(SELECT COUNT(*) FROM profiles)
	`).Scan(&pending, &published, &profiles)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return pending, published, profiles, nil
}
