package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB records matching outcomes for the lesson/review layers, which
// consume them as plain data. The matching core only writes here; reads
// happen over the history API.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MaxConnIdleTime = 30 * time.Minute
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() {
	db.pool.Close()
}

func (db *PostgresDB) CreatePracticeSession(ctx context.Context, session *PracticeSession) error {
	query := `
		INSERT INTO practice_sessions (match_id, learner_id, fluent_id, language, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return db.pool.QueryRow(ctx, query,
		session.MatchID, session.LearnerID, session.FluentID, session.Language, session.Status).
		Scan(&session.ID, &session.CreatedAt)
}

func (db *PostgresDB) UpdatePracticeSessionStatus(ctx context.Context, matchID, status string) error {
	query := `
		UPDATE practice_sessions
		SET status = $2, ended_at = CASE WHEN $2 IN ($3, $4) THEN now() ELSE ended_at END
		WHERE match_id = $1`

	_, err := db.pool.Exec(ctx, query, matchID, status, SessionEnded, SessionCancelled)
	return err
}

func (db *PostgresDB) GetPracticeSession(ctx context.Context, matchID string) (*PracticeSession, error) {
	session := &PracticeSession{}
	query := `
		SELECT id, match_id, learner_id, fluent_id, language, status, created_at, ended_at
		FROM practice_sessions WHERE match_id = $1`

	err := db.pool.QueryRow(ctx, query, matchID).Scan(
		&session.ID, &session.MatchID, &session.LearnerID, &session.FluentID,
		&session.Language, &session.Status, &session.CreatedAt, &session.EndedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}

	return session, err
}
