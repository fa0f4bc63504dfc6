package question

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Row mirrors a record in the questions table.
type Row struct {
	QuestionID  pgtype.UUID        `db:"question_id"`
	Title       string             `db:"title"`
	Description string             `db:"description"`
	StarterCode string             `db:"starter_code"`
	TestCases   []byte             `db:"test_cases"`
	Active      bool               `db:"active"`
	CreatedAt   pgtype.Timestamptz `db:"created_at"`
}

// InsertParams are the columns a caller supplies when adding a question.
type InsertParams struct {
	Title       string
	Description string
	StarterCode string
	TestCases   []byte
	Active      bool
}
