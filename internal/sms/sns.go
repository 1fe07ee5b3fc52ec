// internal/sms/sns.go
package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/models"
)

// SNSPublisher is the part of the SNS client used for direct SMS.
type SNSPublisher interface {
	PublishWithContext(ctx aws.Context, input *sns.PublishInput, opts ...request.Option) (*sns.PublishOutput, error)
}

// NewSNSClient returns nil when no AWS credentials are configured.
func NewSNSClient(cfg config.AWSConfig) (*sns.SNS, error) {
	if cfg.AccessKeyID == "" {
		return nil, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return sns.New(sess), nil
}

type SNS struct {
	client   SNSPublisher
	senderID string
}

func NewSNS(client SNSPublisher, senderID string) *SNS {
	return &SNS{client: client, senderID: senderID}
}

func (s *SNS) Provider() models.SmsProvider { return models.SmsProviderSNS }

func (s *SNS) Send(ctx context.Context, phone, message string) (*Result, error) {
	attrs := map[string]*sns.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = &sns.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.client.PublishWithContext(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(internationalPhone(phone)),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, &SendError{Provider: s.Provider(), Message: err.Error()}
	}
	return &Result{MessageID: aws.StringValue(out.MessageId)}, nil
}
