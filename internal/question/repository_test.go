package question

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/codeduel/internal/game"
)

type mockQuestionStore struct {
	mock.Mock
}

func (m *mockQuestionStore) ListActiveQuestions(ctx context.Context, limit int32) ([]Row, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]Row), args.Error(1)
}

func (m *mockQuestionStore) GetQuestion(ctx context.Context, id pgtype.UUID) (Row, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Row), args.Error(1)
}

func (m *mockQuestionStore) InsertQuestion(ctx context.Context, arg InsertParams) (Row, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(Row), args.Error(1)
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func sumRow(id uuid.UUID) Row {
	return Row{
		QuestionID:  pgUUID(id),
		Title:       "Sum",
		Description: "Return a + b.",
		StarterCode: "def solve(a, b):\n    pass\n",
		TestCases:   []byte(`[{"args":[1,1],"expected":2},{"args":[2,3],"expected":5}]`),
		Active:      true,
	}
}

func TestRepository_ListActive(t *testing.T) {
	store := new(mockQuestionStore)
	repo := NewRepository(store)
	id := uuid.New()

	store.On("ListActiveQuestions", mock.Anything, int32(10)).Return([]Row{sumRow(id)}, nil)

	got, err := repo.ListActive(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id.String(), got[0].ID)
	assert.Equal(t, "Sum", got[0].Title)
	require.Len(t, got[0].TestCases, 2)
	assert.JSONEq(t, `[2,3]`, string(got[0].TestCases[1].Args))
	assert.JSONEq(t, `5`, string(got[0].TestCases[1].Expected))
	store.AssertExpectations(t)
}

func TestRepository_ListActiveBadCases(t *testing.T) {
	store := new(mockQuestionStore)
	repo := NewRepository(store)

	row := sumRow(uuid.New())
	row.TestCases = []byte(`{"not":"a list"}`)
	store.On("ListActiveQuestions", mock.Anything, int32(10)).Return([]Row{row}, nil)

	_, err := repo.ListActive(context.Background(), 10)
	assert.Error(t, err)
}

func TestRepository_Get(t *testing.T) {
	store := new(mockQuestionStore)
	repo := NewRepository(store)
	id := uuid.New()

	store.On("GetQuestion", mock.Anything, pgUUID(id)).Return(sumRow(id), nil)

	got, err := repo.Get(context.Background(), id.String())
	require.NoError(t, err)
	assert.Equal(t, id.String(), got.ID)
	store.AssertExpectations(t)
}

func TestRepository_GetNotFound(t *testing.T) {
	store := new(mockQuestionStore)
	repo := NewRepository(store)
	missing := uuid.New()

	store.On("GetQuestion", mock.Anything, pgUUID(missing)).Return(Row{}, pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), missing.String())
	assert.ErrorIs(t, err, game.ErrNotFound)

	_, err = repo.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, game.ErrNotFound)
	store.AssertNumberOfCalls(t, "GetQuestion", 1)
}

func TestRepository_GetDatabaseError(t *testing.T) {
	store := new(mockQuestionStore)
	repo := NewRepository(store)
	id := uuid.New()

	store.On("GetQuestion", mock.Anything, pgUUID(id)).Return(Row{}, errors.New("connection reset"))

	_, err := repo.Get(context.Background(), id.String())
	require.Error(t, err)
	assert.NotErrorIs(t, err, game.ErrNotFound)
}

func TestRepository_Insert(t *testing.T) {
	store := new(mockQuestionStore)
	repo := NewRepository(store)
	id := uuid.New()

	q := game.Question{
		Title:       "Sum",
		Description: "Return a + b.",
		StarterCode: "def solve(a, b):\n    pass\n",
		TestCases: []game.TestCase{
			{Args: []byte(`[1,1]`), Expected: []byte(`2`)},
		},
	}
	store.On("InsertQuestion", mock.Anything, mock.MatchedBy(func(p InsertParams) bool {
		return p.Title == "Sum" && p.Active && string(p.TestCases) == `[{"args":[1,1],"expected":2}]`
	})).Return(sumRow(id), nil)

	got, err := repo.Insert(context.Background(), q, true)
	require.NoError(t, err)
	assert.Equal(t, id.String(), got.ID)
	store.AssertExpectations(t)
}
