package awsx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		expected options
		loadOpts int
	}{
		{
			name:     "no options",
			expected: options{},
			loadOpts: 0,
		},
		{
			name:     "profile and region",
			opts:     []Option{WithProfile("dev"), WithRegion("eu-west-1")},
			expected: options{profile: "dev", region: "eu-west-1"},
			loadOpts: 2,
		},
		{
			name:     "max attempts",
			opts:     []Option{WithMaxAttempts(5)},
			expected: options{maxAttempts: 5},
			loadOpts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o options
			for _, opt := range tt.opts {
				opt(&o)
			}
			assert.Equal(t, tt.expected, o)
			assert.Len(t, o.loadOptions(), tt.loadOpts)
		})
	}
}

func TestLoadConfig_Region(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	cfg, err := LoadConfig(context.Background(), WithRegion("ap-southeast-1"), WithMaxAttempts(2))
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-1", cfg.Region)
	assert.Equal(t, 2, cfg.Retryer().MaxAttempts())
}

func TestNewClients(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	cfg, err := LoadConfig(context.Background(), WithRegion("us-east-1"))
	require.NoError(t, err)

	s3Client := NewS3(cfg, "http://localhost:9000", true)
	assert.Equal(t, "http://localhost:9000", *s3Client.Options().BaseEndpoint)
	assert.True(t, s3Client.Options().UsePathStyle)

	sqsClient := NewSQS(cfg, "")
	assert.Nil(t, sqsClient.Options().BaseEndpoint)
}
