package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO needed)
)

// Store owns all job records and is the only component allowed to mutate
// them. Every state transition goes through one of its methods so the
// invariants (finished_on iff terminal, monotonic attempts, no id reuse)
// are enforced in one place.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database and ensures schema exists.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// Writes are serialized through a single connection; reads still see a
	// consistent snapshot thanks to WAL.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS queues (
		name TEXT PRIMARY KEY,
		paused INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL REFERENCES queues(name),
		name TEXT NOT NULL,
		payload BLOB NOT NULL,
		state TEXT NOT NULL,
		attempts_made INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		delay_until DATETIME NULL,
		processed_on DATETIME NULL,
		finished_on DATETIME NULL,
		failed_reason TEXT,
		stacktrace TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_queue_state_created ON jobs(queue, state, created_at);
	`
	// AUTOINCREMENT keeps ids strictly increasing so a removed job's id is
	// never handed to a new job.
	_, err := s.db.Exec(q)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue inserts a new job. A positive delay parks it in the delayed state
// until delay elapses; otherwise it is immediately waiting. The queue row is
// created on first use.
func (s *Store) Enqueue(queue, name string, payload json.RawMessage, delay time.Duration) (*Job, error) {
	if queue == "" {
		return nil, errInvalidArgument("queue name is required")
	}
	if name == "" {
		return nil, errInvalidArgument("job name is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	now := time.Now().UTC()
	state := StateWaiting
	var delayUntil sql.NullTime
	if delay > 0 {
		state = StateDelayed
		delayUntil = sql.NullTime{Time: now.Add(delay), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO queues(name, paused) VALUES(?, 0)`, queue); err != nil {
		tx.Rollback()
		return nil, err
	}
	res, err := tx.Exec(`INSERT INTO jobs(queue, name, payload, state, attempts_made, created_at, delay_until) VALUES(?,?,?,?,0,?,?)`,
		queue, name, string(payload), string(state), now, nullableTime(delayUntil))
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Job{
		ID:         id,
		Queue:      queue,
		Name:       name,
		Payload:    payload,
		State:      state,
		CreatedAt:  now,
		DelayUntil: delayUntil,
	}, nil
}

// Get retrieves a job by queue and id.
func (s *Store) Get(queue string, id int64) (*Job, error) {
	row := s.db.QueryRow(`SELECT id, queue, name, payload, state, attempts_made, created_at, delay_until, processed_on, finished_on, failed_reason, stacktrace FROM jobs WHERE queue = ? AND id = ?`, queue, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errNotFound("job %d not found in queue %q", id, queue)
	}
	return j, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var j Job
	var payload string
	if err := r.Scan(&j.ID, &j.Queue, &j.Name, &payload, &j.State, &j.AttemptsMade, &j.CreatedAt, &j.DelayUntil, &j.ProcessedOn, &j.FinishedOn, &j.FailedReason, &j.Stacktrace); err != nil {
		return nil, err
	}
	j.Payload = []byte(payload)
	return &j, nil
}

// ClaimNext pulls the oldest waiting job from the queue and marks it active,
// incrementing attempts_made and stamping processed_on on first claim.
// Returns nil when the queue is paused, unknown, or has no waiting jobs.
func (s *Store) ClaimNext(queue string) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}

	var paused int
	if err := tx.QueryRow(`SELECT paused FROM queues WHERE name = ?`, queue).Scan(&paused); err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if paused != 0 {
		tx.Rollback()
		return nil, nil
	}

	var id int64
	err = tx.QueryRow(`SELECT id FROM jobs WHERE queue = ? AND state = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		queue, string(StateWaiting)).Scan(&id)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`UPDATE jobs SET state = ?, attempts_made = attempts_made + 1, processed_on = COALESCE(processed_on, ?) WHERE id = ?`,
		string(StateActive), now, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.Get(queue, id)
}

// ReportResult finishes an active job: success moves it to completed, failure
// to failed with the reason and stacktrace recorded. Reporting on a job that
// is not active is an invalid transition.
func (s *Store) ReportResult(queue string, id int64, out Outcome) (*Job, error) {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if out.Success {
		res, err = s.db.Exec(`UPDATE jobs SET state = ?, finished_on = ?, failed_reason = NULL, stacktrace = NULL WHERE queue = ? AND id = ? AND state = ?`,
			string(StateCompleted), now, queue, id, string(StateActive))
	} else {
		res, err = s.db.Exec(`UPDATE jobs SET state = ?, finished_on = ?, failed_reason = ?, stacktrace = ? WHERE queue = ? AND id = ? AND state = ?`,
			string(StateFailed), now, out.Reason, out.Stacktrace, queue, id, string(StateActive))
	}
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.transitionFailure(queue, id, StateActive, "report result")
	}
	return s.Get(queue, id)
}

// Retry moves a failed job back to waiting. Failure info is cleared but
// attempts_made keeps its history. Only legal from the failed state.
func (s *Store) Retry(queue string, id int64) (*Job, error) {
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, finished_on = NULL, failed_reason = NULL, stacktrace = NULL WHERE queue = ? AND id = ? AND state = ?`,
		string(StateWaiting), queue, id, string(StateFailed))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.transitionFailure(queue, id, StateFailed, "retry")
	}
	return s.Get(queue, id)
}

// Promote makes a delayed job immediately eligible. Only legal from delayed.
func (s *Store) Promote(queue string, id int64) (*Job, error) {
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, delay_until = NULL WHERE queue = ? AND id = ? AND state = ?`,
		string(StateWaiting), queue, id, string(StateDelayed))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.transitionFailure(queue, id, StateDelayed, "promote")
	}
	return s.Get(queue, id)
}

// transitionFailure turns a zero-row conditional update into the right error:
// the job either does not exist (NotFound) or sits in a state the operation
// does not accept (InvalidStateTransition).
func (s *Store) transitionFailure(queue string, id int64, want JobState, op string) error {
	j, err := s.Get(queue, id)
	if err != nil {
		return err
	}
	return errInvalidTransition("cannot %s job %d: state is %q, must be %q", op, id, j.State, want)
}

// Remove deletes a job unconditionally. Removing an absent id is a no-op
// success so duplicate operator clicks stay harmless.
func (s *Store) Remove(queue string, id int64) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE queue = ? AND id = ?`, queue, id)
	return err
}

// Clean bulk-removes all jobs of the queue in the given terminal state and
// returns how many were deleted. Non-terminal states are rejected so live
// work cannot be silently dropped.
func (s *Store) Clean(queue string, state JobState) (int64, error) {
	if !state.Terminal() {
		return 0, errInvalidArgument("clean accepts completed or failed, got %q", state)
	}
	if err := s.requireQueue(queue); err != nil {
		return 0, err
	}
	res, err := s.db.Exec(`DELETE FROM jobs WHERE queue = ? AND state = ?`, queue, string(state))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Drain removes all not-yet-started jobs (waiting and delayed) and returns
// the count. Active jobs keep running.
func (s *Store) Drain(queue string) (int64, error) {
	if err := s.requireQueue(queue); err != nil {
		return 0, err
	}
	res, err := s.db.Exec(`DELETE FROM jobs WHERE queue = ? AND state IN (?, ?)`,
		queue, string(StateWaiting), string(StateDelayed))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Pause stops ClaimNext from handing out the queue's waiting jobs. The queue
// row is created if it does not exist yet, and pausing an already paused
// queue is fine.
func (s *Store) Pause(queue string) error {
	return s.setPaused(queue, 1)
}

// Resume clears the paused flag. Idempotent like Pause.
func (s *Store) Resume(queue string) error {
	return s.setPaused(queue, 0)
}

func (s *Store) setPaused(queue string, paused int) error {
	if queue == "" {
		return errInvalidArgument("queue name is required")
	}
	_, err := s.db.Exec(`INSERT INTO queues(name, paused) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET paused = excluded.paused`, queue, paused)
	return err
}

func (s *Store) requireQueue(queue string) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM queues WHERE name = ?`, queue).Scan(&one)
	if err == sql.ErrNoRows {
		return errNotFound("queue %q not found", queue)
	}
	return err
}

// PromoteDue moves every delayed job whose delay has elapsed back to waiting
// and returns the names of the queues that changed, so callers can emit one
// change event per queue.
func (s *Store) PromoteDue(now time.Time) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(`SELECT DISTINCT queue FROM jobs WHERE state = ? AND delay_until IS NOT NULL AND delay_until <= ?`,
		string(StateDelayed), now.UTC())
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	var queues []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			rows.Close()
			tx.Rollback()
			return nil, err
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return nil, err
	}
	rows.Close()

	if len(queues) > 0 {
		_, err = tx.Exec(`UPDATE jobs SET state = ?, delay_until = NULL WHERE state = ? AND delay_until IS NOT NULL AND delay_until <= ?`,
			string(StateWaiting), string(StateDelayed), now.UTC())
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return queues, nil
}

// RequeueActive resets jobs that were active when the process last stopped
// back to waiting. Their attempts history is kept. Called on startup before
// any worker can claim.
func (s *Store) RequeueActive() (int64, error) {
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, finished_on = NULL WHERE state = ?`,
		string(StateWaiting), string(StateActive))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListJobs returns one page of the queue's jobs filtered by exact state,
// newest first, plus the total matching count. page is 1-indexed.
func (s *Store) ListJobs(queue string, state JobState, page, pageSize int) ([]*Job, int, error) {
	if !state.Valid() {
		return nil, 0, errInvalidArgument("unknown job state %q", state)
	}
	if page < 1 {
		return nil, 0, errInvalidArgument("page must be >= 1")
	}
	if pageSize < 1 {
		return nil, 0, errInvalidArgument("pageSize must be >= 1")
	}
	if err := s.requireQueue(queue); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE queue = ? AND state = ?`, queue, string(state)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`SELECT id, queue, name, payload, state, attempts_made, created_at, delay_until, processed_on, finished_on, failed_reason, stacktrace FROM jobs WHERE queue = ? AND state = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		queue, string(state), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := make([]*Job, 0, pageSize)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// Queues lists every known queue with its paused flag and per-state counts.
func (s *Store) Queues() ([]*QueueInfo, error) {
	rows, err := s.db.Query(`SELECT name, paused FROM queues ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []*QueueInfo
	byName := make(map[string]*QueueInfo)
	for rows.Next() {
		var info QueueInfo
		var paused int
		if err := rows.Scan(&info.Name, &paused); err != nil {
			return nil, err
		}
		info.Paused = paused != 0
		info.Counts = make(map[JobState]int)
		infos = append(infos, &info)
		byName[info.Name] = &info
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.Query(`SELECT queue, state, COUNT(*) FROM jobs GROUP BY queue, state`)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var queue, state string
		var n int
		if err := crows.Scan(&queue, &state, &n); err != nil {
			return nil, err
		}
		if info, ok := byName[queue]; ok {
			info.Counts[JobState(state)] = n
		}
	}
	return infos, crows.Err()
}

func nullableTime(nt sql.NullTime) interface{} {
	if nt.Valid {
		return nt.Time
	}
	return nil
}
