package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hootlabs/hoot/internal/domain"
	"github.com/hootlabs/hoot/internal/errors"
)

const codeUniqueViolation = "23505"

// Postgres implements Store on a pgx pool. Status transitions use a
// conditional UPDATE so concurrent writers serialize on the row itself.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) CreateSession(ctx context.Context, s *domain.Session, questions []domain.Question) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insSessionStmt = `
INSERT INTO sessions (session_id, room_code, quiz_id, host_id, status, scheduled_at, question_count, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`
		insQuestionStmt = `
INSERT INTO questions (question_id, quiz_id, ordinal, text, options, correct_option, time_limit_sec, golden)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (quiz_id, ordinal) DO NOTHING;`
	)

	code := domain.NormalizeRoomCode(s.RoomCode)
	_, err = tx.Exec(ctx, insSessionStmt,
		s.SessionID, code, s.QuizID, s.HostID, s.Status, s.ScheduledAt, s.QuestionCount, s.CreateTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("room code taken: %s", code),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, q := range questions {
		_, err = tx.Exec(ctx, insQuestionStmt,
			q.QuestionID, q.QuizID, q.Ordinal, q.Text, q.Options, q.CorrectOption, q.TimeLimitSec, q.Golden)
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const sessionColumns = `
session_id, room_code, quiz_id, host_id, status, scheduled_at, started_at, ended_at,
current_question, question_started_at, question_count, create_time`

func scanSession(r pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := r.Scan(
		&s.SessionID, &s.RoomCode, &s.QuizID, &s.HostID, &s.Status, &s.ScheduledAt, &s.StartedAt, &s.EndedAt,
		&s.CurrentQuestion, &s.QuestionStartedAt, &s.QuestionCount, &s.CreateTime)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1;`

	s, err := scanSession(p.db.QueryRow(ctx, stmt, sessionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound(errors.WithMessagef("session not found: %s", sessionID))
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return s, nil
}

func (p *Postgres) GetSessionByRoomCode(ctx context.Context, code string) (*domain.Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM sessions WHERE room_code = $1;`

	s, err := scanSession(p.db.QueryRow(ctx, stmt, domain.NormalizeRoomCode(code)))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound(errors.WithMessagef("room code not found: %s", code))
	}
	if err != nil {
		return nil, fmt.Errorf("get session by room code: %w", err)
	}

	return s, nil
}

func (p *Postgres) ApplyTransition(ctx context.Context, t Transition) (*domain.Session, error) {
	stmt := `
UPDATE sessions SET
	status = $2,
	current_question = COALESCE($3, current_question),
	question_started_at = COALESCE($4, question_started_at),
	started_at = COALESCE($5, started_at),
	ended_at = COALESCE($6, ended_at)
WHERE session_id = $1 AND status = ANY($7)
RETURNING ` + sessionColumns + `;`

	from := make([]string, 0, len(t.From))
	for _, f := range t.From {
		from = append(from, string(f))
	}

	s, err := scanSession(p.db.QueryRow(ctx, stmt,
		t.SessionID, t.To, t.CurrentQuestion, t.QuestionStartedAt, t.StartedAt, t.EndedAt, from))
	if stderrors.Is(err, pgx.ErrNoRows) {
		// Either the session is unknown or the CAS lost; distinguish so
		// callers can treat a lost race as a no-op.
		if _, gerr := p.GetSession(ctx, t.SessionID); gerr != nil {
			return nil, gerr
		}
		return nil, errors.PersistenceConflict(
			errors.WithMessagef("session %s not in %v", t.SessionID, t.From))
	}
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	return s, nil
}

func (p *Postgres) UpsertPlayer(ctx context.Context, pl *domain.Player) (*domain.Player, error) {
	if pl.Ephemeral() {
		// No identity key, nothing to deduplicate on: always a fresh row.
		const stmt = `
INSERT INTO players (player_id, session_id, display_name, identity_key, joined_at, score)
VALUES ($1, $2, $3, NULL, $4, 0);`

		if _, err := p.db.Exec(ctx, stmt, pl.PlayerID, pl.SessionID, pl.DisplayName, pl.JoinedAt); err != nil {
			return nil, fmt.Errorf("insert player: %w", err)
		}

		cp := *pl
		cp.Score = 0
		return &cp, nil
	}

	const stmt = `
INSERT INTO players (player_id, session_id, display_name, identity_key, joined_at, score)
VALUES ($1, $2, $3, $4, $5, 0)
ON CONFLICT (session_id, identity_key) DO UPDATE SET display_name = EXCLUDED.display_name
RETURNING player_id, session_id, display_name, identity_key, joined_at, score;`

	var out domain.Player
	err := p.db.QueryRow(ctx, stmt,
		pl.PlayerID, pl.SessionID, pl.DisplayName, pl.IdentityKey, pl.JoinedAt,
	).Scan(&out.PlayerID, &out.SessionID, &out.DisplayName, &out.IdentityKey, &out.JoinedAt, &out.Score)
	if err != nil {
		return nil, fmt.Errorf("upsert player: %w", err)
	}

	return &out, nil
}

func (p *Postgres) GetPlayer(ctx context.Context, sessionID, playerID string) (*domain.Player, error) {
	const stmt = `
SELECT player_id, session_id, display_name, COALESCE(identity_key, ''), joined_at, score
FROM players WHERE session_id = $1 AND player_id = $2;`

	var out domain.Player
	err := p.db.QueryRow(ctx, stmt, sessionID, playerID).Scan(
		&out.PlayerID, &out.SessionID, &out.DisplayName, &out.IdentityKey, &out.JoinedAt, &out.Score)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound(errors.WithMessagef("player not found: %s", playerID))
	}
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}

	return &out, nil
}

func (p *Postgres) DeletePlayer(ctx context.Context, sessionID, playerID string) error {
	const stmt = `DELETE FROM players WHERE session_id = $1 AND player_id = $2;`

	tag, err := p.db.Exec(ctx, stmt, sessionID, playerID)
	if err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound(errors.WithMessagef("player not found: %s", playerID))
	}

	return nil
}

func (p *Postgres) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	const stmt = `
SELECT player_id, session_id, display_name, COALESCE(identity_key, ''), joined_at, score
FROM players WHERE session_id = $1
ORDER BY joined_at, player_id;`

	rows, err := p.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		var pl domain.Player
		err := r.Scan(&pl.PlayerID, &pl.SessionID, &pl.DisplayName, &pl.IdentityKey, &pl.JoinedAt, &pl.Score)
		return pl, err
	})
}

func (p *Postgres) GetQuestionByOrdinal(ctx context.Context, quizID string, ordinal int) (*domain.Question, error) {
	const stmt = `
SELECT question_id, quiz_id, ordinal, text, options, correct_option, time_limit_sec, golden
FROM questions WHERE quiz_id = $1 AND ordinal = $2;`

	var q domain.Question
	err := p.db.QueryRow(ctx, stmt, quizID, ordinal).Scan(
		&q.QuestionID, &q.QuizID, &q.Ordinal, &q.Text, &q.Options, &q.CorrectOption, &q.TimeLimitSec, &q.Golden)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound(errors.WithMessagef("question not found: quiz=%s ordinal=%d", quizID, ordinal))
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	return &q, nil
}

func (p *Postgres) ListQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	const stmt = `
SELECT question_id, quiz_id, ordinal, text, options, correct_option, time_limit_sec, golden
FROM questions WHERE quiz_id = $1
ORDER BY ordinal;`

	rows, err := p.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := r.Scan(&q.QuestionID, &q.QuizID, &q.Ordinal, &q.Text, &q.Options, &q.CorrectOption, &q.TimeLimitSec, &q.Golden)
		return q, err
	})
}

func (p *Postgres) InsertAnswer(ctx context.Context, a *domain.Answer) error {
	const stmt = `
INSERT INTO answers (player_id, question_id, session_id, option, elapsed_ms, correct, points, submit_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := p.db.Exec(ctx, stmt,
		a.PlayerID, a.QuestionID, a.SessionID, a.Option, a.ElapsedMs, a.Correct, a.Points, a.SubmitTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.DuplicateAnswer(
			errors.WithMessagef("answer already submitted: player=%s question=%s", a.PlayerID, a.QuestionID),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	return nil
}

func (p *Postgres) CountAnswers(ctx context.Context, sessionID, questionID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM answers WHERE session_id = $1 AND question_id = $2;`

	var n int
	if err := p.db.QueryRow(ctx, stmt, sessionID, questionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}

	return n, nil
}

func (p *Postgres) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	const stmt = `
SELECT player_id, question_id, session_id, option, elapsed_ms, correct, points, submit_time
FROM answers WHERE session_id = $1
ORDER BY submit_time;`

	rows, err := p.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var a domain.Answer
		err := r.Scan(&a.PlayerID, &a.QuestionID, &a.SessionID, &a.Option, &a.ElapsedMs, &a.Correct, &a.Points, &a.SubmitTime)
		return a, err
	})
}

func (p *Postgres) AddScore(ctx context.Context, sessionID, playerID string, points int64) (int64, error) {
	const stmt = `
UPDATE players SET score = score + $3
WHERE session_id = $1 AND player_id = $2
RETURNING score;`

	var total int64
	err := p.db.QueryRow(ctx, stmt, sessionID, playerID, points).Scan(&total)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, errors.NotFound(errors.WithMessagef("player not found: %s", playerID))
	}
	if err != nil {
		return 0, fmt.Errorf("add score: %w", err)
	}

	return total, nil
}
