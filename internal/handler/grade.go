package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
)

// Grader scores a submitted attempt against the quiz answer key
type Grader struct {
	quizzes store.Quizzes
	now     func() time.Time
}

// NewGrader creates a Grader
func NewGrader(quizzes store.Quizzes) *Grader {
	return &Grader{quizzes: quizzes, now: utcNow}
}

// Handle implements Handler
func (g *Grader) Handle(ctx context.Context, record *job.Record) (job.Transition, error) {
	quiz, err := g.quizzes.GetQuiz(ctx, record.SubjectID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return missingQuiz(record.SubjectID, g.now()), nil
		}
		return job.Transition{}, fmt.Errorf("failed to load quiz: %w", err)
	}

	return job.Graded(Score(quiz.Questions, record.Answers), g.now()), nil
}

// Score returns round(100 * correct / total), or 0 for a quiz without questions.
// Answers past the last question are ignored; unanswered questions count as wrong.
func Score(questions []job.Question, answers []int) int {
	total := len(questions)
	if total == 0 {
		return 0
	}

	correct := 0
	for i, q := range questions {
		if i < len(answers) && answers[i] == q.CorrectIndex {
			correct++
		}
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}
