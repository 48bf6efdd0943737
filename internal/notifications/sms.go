package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SMSSender delivers a text message to a phone number. Delivery is
// best-effort: a failed send is reported, never retried here.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// SNSSender sends SMS through AWS SNS
type SNSSender struct {
	client   *sns.Client
	senderID string
}

// NewSNSSender creates an SNS-backed SMS sender
func NewSNSSender(client *sns.Client, senderID string) *SNSSender {
	return &SNSSender{client: client, senderID: senderID}
}

// Send publishes one transactional SMS
func (s *SNSSender) Send(ctx context.Context, phone, message string) error {
	attributes := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(NormalizeBDPhone(phone)),
		Message:           aws.String(message),
		MessageAttributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}
	return nil
}

// NormalizeBDPhone converts a local Bangladeshi number to E.164 form.
// "01712345678" becomes "+8801712345678"; numbers already carrying the
// country code keep it.
func NormalizeBDPhone(phone string) string {
	number := strings.TrimSpace(phone)
	number = strings.TrimPrefix(number, "+")
	if strings.HasPrefix(number, "0") {
		number = "880" + number[1:]
	} else if !strings.HasPrefix(number, "880") {
		number = "880" + number
	}
	return "+" + number
}
