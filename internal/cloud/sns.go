package cloud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSClient wraps the AWS SDK v2 SNS client, adapted from its
// subject/message alert-text shape into an opaque JSON task payload so it
// can back the Queue interface's notifications backend.
type SNSClient struct {
	svc      *sns.Client
	topicArn string
}

func NewSNSClient(ctx context.Context, region, topicArn string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("cloud: load AWS config: %w", err)
	}
	return &SNSClient{svc: sns.NewFromConfig(cfg), topicArn: topicArn}, nil
}

// Publish sends an opaque message body to the configured topic.
func (c *SNSClient) Publish(ctx context.Context, subject string, body []byte) (string, error) {
	input := &sns.PublishInput{
		TopicArn: aws.String(c.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
	}
	result, err := c.svc.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("cloud: publish to SNS: %w", err)
	}
	return aws.ToString(result.MessageId), nil
}

// PublishNotificationTask publishes a {"alert_id": ...} payload, the shape
// the notifications queue's SNS backend hands off to the (external)
// notifier (spec.md §4.6 step 3c, §9 "workers/notifications.py").
func (c *SNSClient) PublishNotificationTask(ctx context.Context, alertID int64) (string, error) {
	body, err := json.Marshal(struct {
		AlertID int64 `json:"alert_id"`
	}{AlertID: alertID})
	if err != nil {
		return "", fmt.Errorf("cloud: marshal notification task: %w", err)
	}
	return c.Publish(ctx, "factoryops alert", body)
}
