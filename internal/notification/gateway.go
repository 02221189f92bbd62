// Package notification delivers admission events to staff and patients.
// Delivery is best-effort: failures are logged and never reach the caller
// of the pipeline.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

// Gateway is the notify(submissionId, eventKind, payload) contract.
type Gateway interface {
	Notify(ctx context.Context, submissionID, kind string, payload map[string]interface{}) error
}

// Notification is one queued delivery.
type Notification struct {
	SubmissionID string
	Kind         string
	Payload      map[string]interface{}
}

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type message struct {
	SubmissionID string                 `json:"submissionId"`
	Kind         string                 `json:"kind"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// SNSGateway publishes every event to one topic. Subscribers filter on the
// eventKind message attribute.
type SNSGateway struct {
	client   SNSService
	topicARN string
	logger   logger.Logger
}

func NewSNSGateway(client SNSService, topicARN string, log logger.Logger) *SNSGateway {
	return &SNSGateway{
		client:   client,
		topicARN: topicARN,
		logger:   log.WithFields(map[string]interface{}{"component": "sns-gateway"}),
	}
}

func (g *SNSGateway) Notify(ctx context.Context, submissionID, kind string, payload map[string]interface{}) error {
	body, err := json.Marshal(message{SubmissionID: submissionID, Kind: kind, Payload: payload})
	if err != nil {
		return apperrors.NewNotificationSendFailedError("sns", err)
	}

	out, err := g.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(g.topicARN),
		Subject:  aws.String(fmt.Sprintf("%s %s", kind, submissionID)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"eventKind": {DataType: aws.String("String"), StringValue: aws.String(kind)},
		},
	})
	if err != nil {
		return apperrors.NewNotificationSendFailedError("sns", err)
	}

	g.logger.Debug("event published", map[string]interface{}{
		"submissionId": submissionID,
		"kind":         kind,
		"messageId":    aws.ToString(out.MessageId),
	})
	return nil
}

// SESGateway emails the facility desk when a critical case is assigned.
// Every other event is ignored.
type SESGateway struct {
	client SESService
	from   string
	desk   string
	logger logger.Logger
}

func NewSESGateway(client SESService, from, desk string, log logger.Logger) *SESGateway {
	return &SESGateway{
		client: client,
		from:   from,
		desk:   desk,
		logger: log.WithFields(map[string]interface{}{"component": "ses-gateway"}),
	}
}

func (g *SESGateway) Notify(ctx context.Context, submissionID, kind string, payload map[string]interface{}) error {
	if kind != models.EventFacilityAssigned || payload["tier"] != models.TierCritical.String() {
		return nil
	}

	facility, _ := payload["facilityId"].(string)
	subject := fmt.Sprintf("Critical admission %s assigned to %s", submissionID, facility)
	body := fmt.Sprintf("Submission %s was triaged critical and assigned to facility %s.\nQueue position: %v\nEstimated wait: %v\n",
		submissionID, facility, payload["queuePosition"], payload["estimatedWait"])

	_, err := g.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{ToAddresses: []string{g.desk}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body:    &sestypes.Body{Text: &sestypes.Content{Data: aws.String(body)}},
		},
		Source: aws.String(g.from),
	})
	if err != nil {
		return apperrors.NewNotificationSendFailedError("ses", err)
	}

	g.logger.Info("desk notified of critical admission", map[string]interface{}{
		"submissionId": submissionID,
		"facilityId":   facility,
	})
	return nil
}

// Multi fans a notification out to every gateway and joins their errors.
type Multi []Gateway

func (m Multi) Notify(ctx context.Context, submissionID, kind string, payload map[string]interface{}) error {
	var errs []error
	for _, g := range m {
		if err := g.Notify(ctx, submissionID, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogGateway only logs. It stands in when no delivery channel is configured.
type LogGateway struct {
	logger logger.Logger
}

func NewLogGateway(log logger.Logger) *LogGateway {
	return &LogGateway{logger: log.WithFields(map[string]interface{}{"component": "log-gateway"})}
}

func (g *LogGateway) Notify(_ context.Context, submissionID, kind string, payload map[string]interface{}) error {
	g.logger.Info("notification", map[string]interface{}{
		"submissionId": submissionID,
		"kind":         kind,
		"payload":      payload,
	})
	return nil
}
