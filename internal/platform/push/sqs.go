package push

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSender enqueues notifications on an SQS queue for a delivery worker.
type SQSSender struct {
	client   sqsAPI
	queueURL string
}

// NewSQSSender loads the default AWS configuration chain and resolves the
// queue URL by name.
func NewSQSSender(ctx context.Context, queueName string) (*SQSSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(cfg)

	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, fmt.Errorf("resolve queue %q: %w", queueName, err)
	}
	return &SQSSender{client: client, queueURL: aws.ToString(out.QueueUrl)}, nil
}

func (s *SQSSender) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if err := validate(token); err != nil {
		return err
	}
	payload, err := encodeEnvelope(token, title, body, data)
	if err != nil {
		return fmt.Errorf("encode push envelope: %w", err)
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	}
	if id := data["appointment_id"]; id != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			"appointment_id": {DataType: aws.String("String"), StringValue: aws.String(id)},
		}
	}
	if _, err := s.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("enqueue push message: %w", err)
	}
	return nil
}

func (s *SQSSender) Close() error { return nil }
