// Package sqs adapts an Amazon SQS queue to transport.Transport.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/cuongbtq/quizjobs/internal/transport"
)

// Hard limits imposed by SQS
const (
	MaxBatch = 10
	MaxWait  = 20 * time.Second
)

var _ transport.Transport = (*Transport)(nil)

// API is the subset of the SQS client used here
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Transport sends and receives job envelopes through one SQS queue
type Transport struct {
	client   API
	queueURL string
	logger   *slog.Logger
}

// New creates a Transport bound to queueURL
func New(client API, queueURL string, logger *slog.Logger) *Transport {
	return &Transport{
		client:   client,
		queueURL: queueURL,
		logger:   logger.With(slog.String("queue_url", queueURL)),
	}
}

// QueueURL returns the bound queue URL
func (t *Transport) QueueURL() string { return t.queueURL }

// Enqueue implements transport.Transport
func (t *Transport) Enqueue(ctx context.Context, body []byte) error {
	out, err := t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	t.logger.Debug("Message sent", slog.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// Receive implements transport.Transport
func (t *Transport) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]transport.Message, error) {
	out, err := t.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(t.queueURL),
		MaxNumberOfMessages: clampBatch(maxMessages),
		WaitTimeSeconds:     waitSeconds(wait),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	msgs := make([]transport.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, transport.Message{
			ID:           aws.ToString(m.MessageId),
			Body:         []byte(aws.ToString(m.Body)),
			Handle:       aws.ToString(m.ReceiptHandle),
			ReceiveCount: receiveCount(m.Attributes),
		})
	}
	return msgs, nil
}

// Delete implements transport.Transport. Expired receipt handles are treated as already deleted.
func (t *Transport) Delete(ctx context.Context, handle string) error {
	_, err := t.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(t.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		if isInvalidHandle(err) {
			t.logger.Debug("Receipt handle no longer valid, treating as deleted")
			return nil
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func clampBatch(n int) int32 {
	switch {
	case n <= 0:
		return 1
	case n > MaxBatch:
		return MaxBatch
	default:
		return int32(n)
	}
}

func waitSeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > MaxWait {
		d = MaxWait
	}
	return int32(d / time.Second)
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func isInvalidHandle(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ReceiptHandleIsInvalid":
			return true
		case "InvalidParameterValue":
			// expired handles surface as "Value ... for parameter ReceiptHandle is invalid"
			msg := strings.ToLower(apiErr.ErrorMessage())
			return strings.Contains(msg, "receipthandle") || strings.Contains(msg, "receipt handle")
		}
	}
	return false
}

// ResolveQueueURL looks up the URL of an existing queue by name
func ResolveQueueURL(ctx context.Context, client API, name string) (string, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue %s: %w", name, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

// QueueSpec describes a main queue and its dead-letter queue
type QueueSpec struct {
	Name              string
	DeadLetterName    string
	VisibilityTimeout time.Duration
	MaxReceiveCount   int
}

type redrivePolicy struct {
	DeadLetterTargetArn string `json:"deadLetterTargetArn"`
	MaxReceiveCount     string `json:"maxReceiveCount"`
}

// EnsureQueues creates the dead-letter queue and the main queue with its redrive policy.
// CreateQueue is idempotent for matching attributes. Returns the main and dead-letter queue URLs.
func EnsureQueues(ctx context.Context, client API, spec QueueSpec) (string, string, error) {
	if spec.Name == "" || spec.DeadLetterName == "" {
		return "", "", errors.New("queue name and dead-letter queue name are required")
	}

	dlq, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(spec.DeadLetterName)})
	if err != nil {
		return "", "", fmt.Errorf("failed to create dead-letter queue: %w", err)
	}

	attrs, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       dlq.QueueUrl,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to get dead-letter queue arn: %w", err)
	}

	queueAttrs, err := mainQueueAttributes(spec, attrs.Attributes[string(types.QueueAttributeNameQueueArn)])
	if err != nil {
		return "", "", err
	}

	main, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(spec.Name),
		Attributes: queueAttrs,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create queue: %w", err)
	}

	return aws.ToString(main.QueueUrl), aws.ToString(dlq.QueueUrl), nil
}

func mainQueueAttributes(spec QueueSpec, dlqArn string) (map[string]string, error) {
	if dlqArn == "" {
		return nil, errors.New("dead-letter queue arn is empty")
	}
	maxReceive := spec.MaxReceiveCount
	if maxReceive <= 0 {
		maxReceive = 5
	}

	policy, err := json.Marshal(redrivePolicy{
		DeadLetterTargetArn: dlqArn,
		MaxReceiveCount:     strconv.Itoa(maxReceive),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode redrive policy: %w", err)
	}

	attrs := map[string]string{
		string(types.QueueAttributeNameRedrivePolicy): string(policy),
	}
	if spec.VisibilityTimeout > 0 {
		attrs[string(types.QueueAttributeNameVisibilityTimeout)] = strconv.Itoa(int(spec.VisibilityTimeout / time.Second))
	}
	return attrs, nil
}
