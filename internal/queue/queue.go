package queue

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mattjoyce/promptq/internal/log"
)

// timeLayout is fixed-width so that lexical order of stored timestamps is
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const jobColumns = `id, prompt, provider_name, working_directory, status, result, result_model, error,
  channel_id, channel_platform, created_at, started_at, completed_at`

// Store is the durable job table. Every mutation is a single statement
// conditioned on the row's current status, so concurrent workers and
// administrative callers can share one database without extra locking.
type Store struct {
	db              *sql.DB
	logger          *slog.Logger
	now             func() time.Time
	knownProvider   func(string) bool
	defaultProvider string
}

type Option func(*Store)

// WithLogger overrides the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProviders makes Enqueue reject provider names for which known returns
// false, and substitutes def when the request leaves the provider empty.
func WithProviders(known func(string) bool, def string) Option {
	return func(s *Store) {
		s.knownProvider = known
		s.defaultProvider = def
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: log.WithComponent("queue"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

// Enqueue inserts a pending job and returns the stored record.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.Mark(errors.New("prompt is empty"), ErrInvalidRequest)
	}
	if req.ChannelID == "" {
		return nil, errors.Mark(errors.New("channel id is empty"), ErrInvalidRequest)
	}
	if req.ChannelPlatform == "" {
		return nil, errors.Mark(errors.New("channel platform is empty"), ErrInvalidRequest)
	}

	provider := strings.TrimSpace(req.ProviderName)
	if provider == "" {
		provider = s.defaultProvider
	}
	if provider == "" {
		return nil, errors.Mark(errors.New("provider is empty and no default is configured"), ErrInvalidRequest)
	}
	if s.knownProvider != nil && !s.knownProvider(provider) {
		return nil, errors.Mark(errors.Newf("provider %q is not configured", provider), ErrUnknownProvider)
	}

	var workDir any
	if req.WorkingDirectory != "" {
		workDir = req.WorkingDirectory
	}

	row := s.db.QueryRowContext(ctx, `
INSERT INTO jobs(prompt, provider_name, working_directory, status, channel_id, channel_platform, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
RETURNING `+jobColumns+`;
`, req.Prompt, provider, workDir, StatusPending, req.ChannelID, req.ChannelPlatform, s.stamp())

	j, err := scanJob(row)
	if err != nil {
		return nil, errors.Wrap(err, "enqueue job")
	}
	s.logger.Debug("job enqueued", "job_id", j.ID, "provider", j.ProviderName, "prompt_digest", log.PromptDigest(j.Prompt))
	return j, nil
}

// Get returns the job with the given id, or ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?;`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("job %d not found", id), ErrJobNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get job %d", id)
	}
	return j, nil
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, errors.Mark(errors.Newf("invalid status filter %q", f.Status), ErrInvalidRequest)
		}
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ChannelID != "" {
		where = append(where, "channel_id = ?")
		args = append(args, f.ChannelID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	return collectJobs(rows)
}

// Claim moves the oldest pending job to running and returns it. It returns
// (nil, nil) when there is nothing to claim, which includes the case where
// another job is already running anywhere on this database. A claimant that
// loses a race sees zero rows, which is the same "nothing to claim" result.
func (s *Store) Claim(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE jobs
SET status = ?, started_at = ?
WHERE id = (
    SELECT id FROM jobs
    WHERE status = ?
    ORDER BY created_at ASC, id ASC
    LIMIT 1
  )
  AND status = ?
  AND NOT EXISTS (SELECT 1 FROM jobs WHERE status = ?)
RETURNING `+jobColumns+`;
`, StatusRunning, s.stamp(), StatusPending, StatusPending, StatusRunning)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim job")
	}
	return j, nil
}

// MarkCompleted records a successful outcome on a running job. A job that
// is not running is left untouched and ErrNotRunning is returned.
func (s *Store) MarkCompleted(ctx context.Context, id int64, result string, model string) error {
	var modelVal any
	if model != "" {
		modelVal = model
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, result = ?, result_model = ?, completed_at = ?
WHERE id = ? AND status = ?;
`, StatusCompleted, result, modelVal, s.stamp(), id, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "mark job %d completed", id)
	}
	return s.checkTransition(ctx, res, id)
}

// MarkFailed records a failed outcome on a running job. A job that is not
// running is left untouched and ErrNotRunning is returned.
func (s *Store) MarkFailed(ctx context.Context, id int64, errText string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, error = ?, completed_at = ?
WHERE id = ? AND status = ?;
`, StatusFailed, errText, s.stamp(), id, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "mark job %d failed", id)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *Store) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 1 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.Mark(errors.Newf("job %d is %s", id, current.Status), ErrNotRunning)
}

// Cancel fails a pending job with CancelledError. It returns false when the
// job exists but is no longer pending.
func (s *Store) Cancel(ctx context.Context, id int64) (bool, error) {
	now := s.stamp()
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, error = ?, started_at = ?, completed_at = ?
WHERE id = ? AND status = ?;
`, StatusFailed, CancelledError, now, now, id, StatusPending)
	if err != nil {
		return false, errors.Wrapf(err, "cancel job %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Stats counts jobs by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status;`)
	if err != nil {
		return Stats{}, errors.Wrap(err, "job stats")
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, errors.Wrap(err, "scan job stats")
		}
		switch Status(status) {
		case StatusPending:
			st.Pending = n
		case StatusRunning:
			st.Running = n
		case StatusCompleted:
			st.Completed = n
		case StatusFailed:
			st.Failed = n
		}
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, errors.Wrap(err, "iterate job stats")
	}
	return st, nil
}

// HasPending reports whether any job is waiting to be claimed.
func (s *Store) HasPending(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE status = ?);`, StatusPending).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check pending jobs")
	}
	return exists, nil
}

// ClearFinished deletes completed and failed jobs that finished more than
// olderThan ago. Zero clears every finished job.
func (s *Store) ClearFinished(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
DELETE FROM jobs
WHERE status IN (?, ?) AND completed_at <= ?;
`, StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "clear finished jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	if n > 0 {
		s.logger.Info("cleared finished jobs", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}

// Retry enqueues a fresh job with the prompt, provider, working directory and
// channel of a finished job. The original job is not modified.
func (s *Store) Retry(ctx context.Context, id int64) (*Job, error) {
	orig, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !orig.Status.Terminal() {
		return nil, errors.Mark(errors.Newf("job %d is %s", id, orig.Status), ErrNotTerminal)
	}
	return s.Enqueue(ctx, EnqueueRequest{
		Prompt:           orig.Prompt,
		ProviderName:     orig.ProviderName,
		WorkingDirectory: orig.WorkDir(),
		ChannelID:        orig.ChannelID,
		ChannelPlatform:  orig.ChannelPlatform,
	})
}

// FailStale moves running jobs whose lease (started_at + olderThan) has
// expired to failed and returns them. No executor outlives its timeout, so
// such a row can only belong to a worker that died mid-job.
func (s *Store) FailStale(ctx context.Context, olderThan time.Duration) ([]*Job, error) {
	now := s.now().UTC()
	cutoff := now.Add(-olderThan).Format(timeLayout)
	rows, err := s.db.QueryContext(ctx, `
UPDATE jobs
SET status = ?, error = ?, completed_at = ?
WHERE status = ? AND started_at < ?
RETURNING `+jobColumns+`;
`, StatusFailed, LeaseExpiredError, now.Format(timeLayout), StatusRunning, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "fail stale jobs")
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		s.logger.Warn("running job lease expired", "job_id", j.ID, "started_at", j.StartedAt)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate jobs")
	}
	return out, nil
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j           Job
		status      string
		workDir     sql.NullString
		result      sql.NullString
		resultModel sql.NullString
		errText     sql.NullString
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	if err := row.Scan(
		&j.ID, &j.Prompt, &j.ProviderName, &workDir, &status, &result, &resultModel, &errText,
		&j.ChannelID, &j.ChannelPlatform, &createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	j.Status = Status(status)
	j.WorkingDirectory = nullString(workDir)
	j.Result = nullString(result)
	j.ResultModel = nullString(resultModel)
	j.Error = nullString(errText)

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at of job %d", j.ID)
	}
	j.CreatedAt = t
	if j.StartedAt, err = nullTime(startedAt); err != nil {
		return nil, errors.Wrapf(err, "parse started_at of job %d", j.ID)
	}
	if j.CompletedAt, err = nullTime(completedAt); err != nil {
		return nil, errors.Wrapf(err, "parse completed_at of job %d", j.ID)
	}
	return &j, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
