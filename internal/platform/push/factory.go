package push

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Settings selects and configures a transport.
type Settings struct {
	Transport    string
	FCMEndpoint  string
	FCMServerKey string
	KafkaBrokers []string
	KafkaTopic   string
	SQSQueue     string
}

// NewSender builds the sender named by s.Transport.
func NewSender(ctx context.Context, s Settings, logger zerolog.Logger) (SenderCloser, error) {
	switch s.Transport {
	case "", "log":
		return NewLogSender(logger), nil
	case "fcm":
		return NewFCMSender(s.FCMEndpoint, s.FCMServerKey, nil), nil
	case "kafka":
		if len(s.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka transport needs at least one broker")
		}
		return NewKafkaSender(s.KafkaBrokers, s.KafkaTopic), nil
	case "sqs":
		return NewSQSSender(ctx, s.SQSQueue)
	default:
		return nil, fmt.Errorf("unknown push transport %q", s.Transport)
	}
}
