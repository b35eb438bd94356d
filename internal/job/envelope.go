package job

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// EnvelopeVersion is the wire version written by Encode
const EnvelopeVersion = 1

// Ref carries the identifiers an envelope needs to re-fetch durable state
type Ref struct {
	JobRecordID string
	SubjectID   string
}

// Envelope is the message placed on the queue. It is a closed set of
// variants: GradeEnvelope and ExportEnvelope.
type Envelope interface {
	Kind() Kind
	Reference() Ref
	envelope()
}

// GradeEnvelope asks the worker to grade an attempt
type GradeEnvelope struct {
	Ref
}

// Kind implements Envelope
func (GradeEnvelope) Kind() Kind { return KindGrade }

// Reference implements Envelope
func (e GradeEnvelope) Reference() Ref { return e.Ref }

func (GradeEnvelope) envelope() {}

// ExportEnvelope asks the worker to export a quiz to the object store
type ExportEnvelope struct {
	Ref
}

// Kind implements Envelope
func (ExportEnvelope) Kind() Kind { return KindExport }

// Reference implements Envelope
func (e ExportEnvelope) Reference() Ref { return e.Ref }

func (ExportEnvelope) envelope() {}

// NewEnvelope builds the envelope variant matching kind
func NewEnvelope(kind Kind, ref Ref) (Envelope, error) {
	switch kind {
	case KindGrade:
		return GradeEnvelope{Ref: ref}, nil
	case KindExport:
		return ExportEnvelope{Ref: ref}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// EnvelopeFor builds the envelope that references a record
func EnvelopeFor(r *Record) (Envelope, error) {
	return NewEnvelope(r.Kind, Ref{JobRecordID: r.ID, SubjectID: r.SubjectID})
}

type wireEnvelope struct {
	Version     int    `json:"v"`
	Kind        Kind   `json:"kind"`
	JobRecordID string `json:"jobRecordId"`
	SubjectID   string `json:"subjectId"`
}

// Encode serializes an envelope to its JSON wire form
func Encode(e Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformedEnvelope)
	}
	ref := e.Reference()
	if ref.JobRecordID == "" || ref.SubjectID == "" {
		return nil, fmt.Errorf("%w: job record id and subject id are required", ErrMalformedEnvelope)
	}

	body, err := json.Marshal(wireEnvelope{
		Version:     EnvelopeVersion,
		Kind:        e.Kind(),
		JobRecordID: ref.JobRecordID,
		SubjectID:   ref.SubjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return body, nil
}

// Decode parses a queue message body. Every failure wraps ErrMalformedEnvelope.
func Decode(body []byte) (Envelope, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrMalformedEnvelope)
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedEnvelope)
	}

	// Missing version is read as the current one
	if v := root.Get("v"); v.Exists() && (v.Type != gjson.Number || v.Int() != EnvelopeVersion) {
		return nil, fmt.Errorf("%w: unsupported version %s", ErrMalformedEnvelope, v.Raw)
	}

	kindField := root.Get("kind")
	if kindField.Type != gjson.String {
		return nil, fmt.Errorf("%w: kind is missing", ErrMalformedEnvelope)
	}
	kind, err := ParseKind(kindField.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var w wireEnvelope
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if w.JobRecordID == "" {
		return nil, fmt.Errorf("%w: jobRecordId is required", ErrMalformedEnvelope)
	}
	if w.SubjectID == "" {
		return nil, fmt.Errorf("%w: subjectId is required", ErrMalformedEnvelope)
	}

	return NewEnvelope(kind, Ref{JobRecordID: w.JobRecordID, SubjectID: w.SubjectID})
}
