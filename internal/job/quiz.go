package job

import "time"

// Quiz is the subject that grading and export jobs operate on.
// It is owned by the surrounding application; this core only reads it.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	CreatedAt time.Time  `json:"created_at"`
}

// Question is a single multiple-choice question
type Question struct {
	Prompt       string   `json:"prompt"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correct_index"`
}

// Clone returns a deep copy of the quiz
func (q *Quiz) Clone() *Quiz {
	c := *q
	c.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Choices = append([]string(nil), question.Choices...)
		c.Questions[i] = question
	}
	return &c
}
