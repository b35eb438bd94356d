package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	sent      []string
	receiveIn *sqs.ReceiveMessageInput
	messages  []types.Message
	deleteErr error
	deleted   []string
	created   map[string]*sqs.CreateQueueInput
}

func (f *fakeClient) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeClient) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveIn = in
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeClient) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeClient) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	name := aws.ToString(in.QueueName)
	if name == "missing" {
		return nil, &types.QueueDoesNotExist{Message: aws.String("no such queue")}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/000/" + name)}, nil
}

func (f *fakeClient) CreateQueue(_ context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	if f.created == nil {
		f.created = map[string]*sqs.CreateQueueInput{}
	}
	name := aws.ToString(in.QueueName)
	f.created[name] = in
	return &sqs.CreateQueueOutput{QueueUrl: aws.String("https://sqs.local/000/" + name)}, nil
}

func (f *fakeClient) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{
		"QueueArn": "arn:aws:sqs:us-east-1:000:jobs-dlq",
	}}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTransport_Enqueue(t *testing.T) {
	client := &fakeClient{}
	tr := New(client, "https://sqs.local/000/jobs", discard())

	require.NoError(t, tr.Enqueue(context.Background(), []byte(`{"v":1}`)))
	assert.Equal(t, []string{`{"v":1}`}, client.sent)
}

func TestTransport_Receive(t *testing.T) {
	client := &fakeClient{messages: []types.Message{
		{
			MessageId:     aws.String("m-1"),
			Body:          aws.String(`{"v":1}`),
			ReceiptHandle: aws.String("rh-1"),
			Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
		},
		{
			MessageId:     aws.String("m-2"),
			Body:          aws.String(`{}`),
			ReceiptHandle: aws.String("rh-2"),
		},
	}}
	tr := New(client, "https://sqs.local/000/jobs", discard())

	msgs, err := tr.Receive(context.Background(), 50, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "m-1", msgs[0].ID)
	assert.Equal(t, "rh-1", msgs[0].Handle)
	assert.Equal(t, 3, msgs[0].ReceiveCount)
	assert.Equal(t, 1, msgs[1].ReceiveCount)

	assert.Equal(t, int32(MaxBatch), client.receiveIn.MaxNumberOfMessages)
	assert.Equal(t, int32(20), client.receiveIn.WaitTimeSeconds)
}

func TestTransport_DeleteInvalidHandleIsNoop(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "typed invalid handle", err: &types.ReceiptHandleIsInvalid{Message: aws.String("expired")}},
		{name: "generic api error", err: &smithy.GenericAPIError{Code: "ReceiptHandleIsInvalid"}},
		{
			name: "expired handle",
			err: &smithy.GenericAPIError{
				Code:    "InvalidParameterValue",
				Message: "Value rh for parameter ReceiptHandle is invalid. Reason: The receipt handle has expired.",
			},
		},
		{
			name:    "unrelated invalid parameter",
			err:     &smithy.GenericAPIError{Code: "InvalidParameterValue", Message: "Value -1 for parameter VisibilityTimeout is invalid."},
			wantErr: true,
		},
		{name: "other failure", err: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(&fakeClient{deleteErr: tt.err}, "q", discard())
			err := tr.Delete(context.Background(), "rh")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClampBatch(t *testing.T) {
	assert.Equal(t, int32(1), clampBatch(0))
	assert.Equal(t, int32(4), clampBatch(4))
	assert.Equal(t, int32(10), clampBatch(11))
}

func TestWaitSeconds(t *testing.T) {
	assert.Equal(t, int32(0), waitSeconds(0))
	assert.Equal(t, int32(5), waitSeconds(5*time.Second))
	assert.Equal(t, int32(20), waitSeconds(time.Hour))
}

func TestEnsureQueues(t *testing.T) {
	client := &fakeClient{}

	mainURL, dlqURL, err := EnsureQueues(context.Background(), client, QueueSpec{
		Name:              "jobs",
		DeadLetterName:    "jobs-dlq",
		VisibilityTimeout: 45 * time.Second,
		MaxReceiveCount:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/000/jobs", mainURL)
	assert.Equal(t, "https://sqs.local/000/jobs-dlq", dlqURL)

	attrs := client.created["jobs"].Attributes
	assert.Equal(t, "45", attrs["VisibilityTimeout"])

	var policy map[string]string
	require.NoError(t, json.Unmarshal([]byte(attrs["RedrivePolicy"]), &policy))
	assert.Equal(t, "arn:aws:sqs:us-east-1:000:jobs-dlq", policy["deadLetterTargetArn"])
	assert.Equal(t, "3", policy["maxReceiveCount"])
}

func TestEnsureQueues_RequiresNames(t *testing.T) {
	_, _, err := EnsureQueues(context.Background(), &fakeClient{}, QueueSpec{Name: "jobs"})
	assert.Error(t, err)
}

func TestResolveQueueURL(t *testing.T) {
	url, err := ResolveQueueURL(context.Background(), &fakeClient{}, "jobs")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/000/jobs", url)

	_, err = ResolveQueueURL(context.Background(), &fakeClient{}, "missing")
	var missing *types.QueueDoesNotExist
	assert.ErrorAs(t, err, &missing)
}
