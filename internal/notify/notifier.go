// Package notify alerts staff when a customer asks for an item the catalog does not carry.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"storefront-assistant/internal/catalog"
	awsclients "storefront-assistant/internal/common/aws"
	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/models"
)

// Config selects the channels. A channel with no destination is skipped.
type Config struct {
	EmailEnabled bool
	FromEmail    string
	ToEmails     []string
	SNSEnabled   bool
	TopicARN     string
}

const subjectPrefix = "New product request: "

// SNS rejects subjects longer than 100 characters.
const maxSubjectRunes = 100

var bodyTmpl = template.Must(template.New("body").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`A customer asked for an item that is not in the catalog.

Request ID: {{.ID}}
Product: {{.Req.Name}}
{{- if .Req.Category}}
Category: {{.Req.Category}}{{end}}
{{- if gt .Req.MaxBudget 0.0}}
Max budget: {{printf "%.2f" .Req.MaxBudget}}{{end}}
{{- if .Req.Specifications}}
Specifications: {{join .Req.Specifications ", "}}{{end}}
{{- if .Req.UserContact}}
Contact: {{.Req.UserContact}}{{end}}
{{- if .Req.Description}}

{{.Req.Description}}{{end}}
`))

// ProductRequestNotifier decorates a ProductRequestSink. Alerts go out only after the request
// was stored and their failures never reach the caller.
type ProductRequestNotifier struct {
	sink   catalog.ProductRequestSink
	cfg    Config
	ses    awsclients.SESService
	sns    awsclients.SNSService
	logger logger.Logger
}

// NewProductRequestNotifier accepts nil clients for channels that are disabled.
func NewProductRequestNotifier(sink catalog.ProductRequestSink, cfg Config, sesClient awsclients.SESService, snsClient awsclients.SNSService, log logger.Logger) *ProductRequestNotifier {
	return &ProductRequestNotifier{
		sink:   sink,
		cfg:    cfg,
		ses:    sesClient,
		sns:    snsClient,
		logger: log.With(map[string]interface{}{"component": "product-request-notifier"}),
	}
}

func (n *ProductRequestNotifier) CreateProductRequest(ctx context.Context, req models.ProductRequest) (models.ProductRequestResult, error) {
	res, err := n.sink.CreateProductRequest(ctx, req)
	if err != nil || !res.Success {
		return res, err
	}

	body, renderErr := render(res.ID, req)
	if renderErr != nil {
		n.logger.Error("failed to render product request alert", map[string]interface{}{"error": renderErr.Error()})
		return res, nil
	}
	subject := subjectPrefix + req.Name

	if n.emailActive() {
		if err := n.sendEmail(ctx, subject, body); err != nil {
			n.logger.Error("product request email failed", map[string]interface{}{
				"requestId": res.ID,
				"error":     err.Error(),
			})
		}
	}
	if n.snsActive() {
		if err := n.publish(ctx, subject, body); err != nil {
			n.logger.Error("product request sns publish failed", map[string]interface{}{
				"requestId": res.ID,
				"error":     err.Error(),
			})
		}
	}
	return res, nil
}

func (n *ProductRequestNotifier) emailActive() bool {
	return n.cfg.EmailEnabled && n.ses != nil && n.cfg.FromEmail != "" && len(n.cfg.ToEmails) > 0
}

func (n *ProductRequestNotifier) snsActive() bool {
	return n.cfg.SNSEnabled && n.sns != nil && n.cfg.TopicARN != ""
}

func (n *ProductRequestNotifier) sendEmail(ctx context.Context, subject, body string) error {
	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: n.cfg.ToEmails,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.cfg.FromEmail),
	})
	return err
}

func (n *ProductRequestNotifier) publish(ctx context.Context, subject, body string) error {
	_, err := n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.cfg.TopicARN),
		Subject:  aws.String(truncateRunes(subject, maxSubjectRunes)),
		Message:  aws.String(body),
	})
	return err
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func render(id string, req models.ProductRequest) (string, error) {
	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, struct {
		ID  string
		Req models.ProductRequest
	}{ID: id, Req: req}); err != nil {
		return "", fmt.Errorf("render alert: %w", err)
	}
	return buf.String(), nil
}
