package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quizjobs/internal/api/dto"
	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &store.Cursor{
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC),
		JobID:     "4f8b7c8e-2b1d-4c59-9a43-1f0d1f1b0a11",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	tests := []struct {
		name    string
		cursor  string
		wantNil bool
		wantErr bool
	}{
		{name: "empty is first page", cursor: "", wantNil: true},
		{name: "not base64", cursor: "%%%", wantErr: true},
		{name: "missing separator", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345")), wantErr: true},
		{name: "missing job id", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345|")), wantErr: true},
		{name: "bad timestamp", cursor: base64.RawURLEncoding.EncodeToString([]byte("abc|id")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := DecodeJobCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, c)
			}
		})
	}
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name    string
		req     dto.ListJobsRequest
		want    store.Filter
		wantErr bool
	}{
		{
			name: "defaults",
			req:  dto.ListJobsRequest{},
			want: store.Filter{PageSize: defaultPageSize},
		},
		{
			name: "page size capped",
			req:  dto.ListJobsRequest{PageSize: 1000},
			want: store.Filter{PageSize: maxPageSize},
		},
		{
			name: "kind and status are case-insensitive",
			req:  dto.ListJobsRequest{Kind: "grade", Status: "graded", PageSize: 5},
			want: store.Filter{Kind: job.KindGrade, Status: job.StatusGraded, PageSize: 5},
		},
		{name: "unknown kind", req: dto.ListJobsRequest{Kind: "archive"}, wantErr: true},
		{name: "unknown status", req: dto.ListJobsRequest{Status: "running"}, wantErr: true},
		{name: "bad cursor", req: dto.ListJobsRequest{Cursor: "!!"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildFilter(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
