package main

import (
	"encoding/json"
	"fmt"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/cuongbtq/quizjobs/internal/job"
)

// quizDiff renders the change from stored to incoming. The bool is false when
// the two differ in nothing but created_at.
func quizDiff(stored, incoming *job.Quiz) (string, bool, error) {
	left, leftDoc, err := quizDocument(stored)
	if err != nil {
		return "", false, err
	}
	right, _, err := quizDocument(incoming)
	if err != nil {
		return "", false, err
	}

	delta, err := gojsondiff.New().Compare(left, right)
	if err != nil {
		return "", false, fmt.Errorf("failed to compare quizzes: %w", err)
	}
	if !delta.Modified() {
		return "", false, nil
	}

	out, err := formatter.NewAsciiFormatter(leftDoc, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(delta)
	if err != nil {
		return "", false, fmt.Errorf("failed to format quiz diff: %w", err)
	}
	return out, true, nil
}

func quizDocument(q *job.Quiz) ([]byte, map[string]any, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, err
	}
	delete(doc, "created_at")

	out, err := json.Marshal(doc)
	return out, doc, err
}
