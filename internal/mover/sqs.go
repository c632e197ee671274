package mover

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI is the subset of the sqs client surface this package uses.
type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSClient implements [Client] against AWS SQS.
type SQSClient struct {
	client sqsAPI

	mu        sync.Mutex
	queueURLs map[string]string
}

// NewSQSClient returns a new SQS-backed client.
func NewSQSClient(client sqsAPI) *SQSClient {
	return &SQSClient{
		client:    client,
		queueURLs: make(map[string]string),
	}
}

// ResolveQueue resolves a queue name to its URL, caching per name for the
// lifetime of the client.
func (c *SQSClient) ResolveQueue(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	queueURL, ok := c.queueURLs[name]
	c.mu.Unlock()
	if ok {
		return queueURL, nil
	}
	output, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		var notFound *types.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return "", &QueueNotFoundError{Name: name, Err: err}
		}
		return "", fmt.Errorf("resolve queue %q: %w", name, err)
	}
	queueURL = aws.ToString(output.QueueUrl)
	c.mu.Lock()
	c.queueURLs[name] = queueURL
	c.mu.Unlock()
	return queueURL, nil
}

// ReceiveBatch receives up to max messages, requesting all message
// attributes so copies preserve them.
func (c *SQSClient) ReceiveBatch(ctx context.Context, queueURL string, max int32) ([]Message, error) {
	output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   max,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, err
	}
	batch := make([]Message, 0, len(output.Messages))
	for _, msg := range output.Messages {
		batch = append(batch, Message{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			Attributes:    msg.MessageAttributes,
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return batch, nil
}

func (c *SQSClient) Send(ctx context.Context, queueURL string, msg Message) error {
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(msg.Body),
		MessageAttributes: msg.Attributes,
	})
	if err != nil {
		return &SendError{MessageID: msg.ID, Err: err}
	}
	return nil
}

func (c *SQSClient) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return &DeleteError{Err: err}
	}
	return nil
}

// ApproximateMessageCount reads the queue's ApproximateNumberOfMessages
// attribute. The service only guarantees an approximation.
func (c *SQSClient) ApproximateMessageCount(ctx context.Context, queueURL string) (int64, error) {
	output, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return 0, err
	}
	raw := output.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	depth, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse queue depth %q: %w", raw, err)
	}
	return depth, nil
}
