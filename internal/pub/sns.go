package pub

import (
	"adslots/internal/ports"
	"adslots/internal/types"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snsTypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/goccy/go-json"
)

type snsPub struct{ cli *sns.Client }

func NewSNS(c *sns.Client) ports.Publisher { return &snsPub{cli: c} }

func (s *snsPub) PublishRaw(ctx context.Context, arn string, payload []byte) error {
	_, err := s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn: &arn,
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snsTypes.MessageAttributeValue{
			"content-type": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
			"kind":         {DataType: aws.String("String"), StringValue: aws.String("impression")},
		},
	})
	return err
}

// Sink publishes every impression as JSON to one topic.
type Sink struct {
	pub ports.Publisher
	arn string
}

var _ ports.ImpressionSink = (*Sink)(nil)

func NewSink(p ports.Publisher, arn string) *Sink {
	return &Sink{pub: p, arn: arn}
}

func (s *Sink) Name() string { return "sns" }

func (s *Sink) Store(ctx context.Context, imp types.Impression) error {
	b, err := json.Marshal(imp)
	if err != nil {
		return types.Err(types.ErrLedgerAccess, err, "encode impression")
	}
	if err := s.pub.PublishRaw(ctx, s.arn, b); err != nil {
		return types.Err(types.ErrLedgerAccess, err, "publish to %s", s.arn)
	}
	return nil
}
