package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gokatarajesh/codeduel/internal/game"
)

type questionStore interface {
	ListActiveQuestions(ctx context.Context, limit int32) ([]Row, error)
	GetQuestion(ctx context.Context, id pgtype.UUID) (Row, error)
	InsertQuestion(ctx context.Context, arg InsertParams) (Row, error)
}

// Repository maps question rows to game questions.
type Repository struct {
	store questionStore
}

func NewRepository(store questionStore) *Repository {
	return &Repository{store: store}
}

// ListActive returns up to limit active questions, newest first.
func (r *Repository) ListActive(ctx context.Context, limit int32) ([]game.Question, error) {
	rows, err := r.store.ListActiveQuestions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list active questions: %w", err)
	}
	out := make([]game.Question, 0, len(rows))
	for _, row := range rows {
		q, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// Get loads one question by id, active or not.
func (r *Repository) Get(ctx context.Context, id string) (*game.Question, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("question %q: %w", id, game.ErrNotFound)
	}
	row, err := r.store.GetQuestion(ctx, pgtype.UUID{Bytes: uid, Valid: true})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("question %s: %w", id, game.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	q, err := toDomain(row)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Insert stores a new question and returns it with its generated id.
func (r *Repository) Insert(ctx context.Context, q game.Question, active bool) (*game.Question, error) {
	cases, err := json.Marshal(q.TestCases)
	if err != nil {
		return nil, fmt.Errorf("marshal test cases: %w", err)
	}
	row, err := r.store.InsertQuestion(ctx, InsertParams{
		Title:       q.Title,
		Description: q.Description,
		StarterCode: q.StarterCode,
		TestCases:   cases,
		Active:      active,
	})
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	out, err := toDomain(row)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func toDomain(row Row) (game.Question, error) {
	var cases []game.TestCase
	if len(row.TestCases) > 0 {
		if err := json.Unmarshal(row.TestCases, &cases); err != nil {
			return game.Question{}, fmt.Errorf("decode test cases: %w", err)
		}
	}
	return game.Question{
		ID:          uuid.UUID(row.QuestionID.Bytes).String(),
		Title:       row.Title,
		Description: row.Description,
		StarterCode: row.StarterCode,
		TestCases:   cases,
	}, nil
}
