package question

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs the question SQL against a pgx connection.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const listActiveQuestions = `
SELECT question_id, title, description, starter_code, test_cases, active, created_at
FROM questions
WHERE active
ORDER BY created_at DESC
LIMIT $1`

func (q *Queries) ListActiveQuestions(ctx context.Context, limit int32) ([]Row, error) {
	rows, err := q.db.Query(ctx, listActiveQuestions, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Row])
}

const getQuestion = `
SELECT question_id, title, description, starter_code, test_cases, active, created_at
FROM questions
WHERE question_id = $1`

func (q *Queries) GetQuestion(ctx context.Context, id pgtype.UUID) (Row, error) {
	rows, err := q.db.Query(ctx, getQuestion, id)
	if err != nil {
		return Row{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Row])
}

const insertQuestion = `
INSERT INTO questions (title, description, starter_code, test_cases, active)
VALUES ($1, $2, $3, $4, $5)
RETURNING question_id, title, description, starter_code, test_cases, active, created_at`

func (q *Queries) InsertQuestion(ctx context.Context, arg InsertParams) (Row, error) {
	rows, err := q.db.Query(ctx, insertQuestion, arg.Title, arg.Description, arg.StarterCode, arg.TestCases, arg.Active)
	if err != nil {
		return Row{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Row])
}
