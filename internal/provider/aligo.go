package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/order-notifier/internal/domain"
	"github.com/kursadbilgin/order-notifier/internal/jsonx"
)

const (
	defaultAligoTimeout = 10 * time.Second
	DefaultAligoSendURL = "https://kakaoapi.aligo.in/akv10/alimtalk/send/"

	// aligoSuccessCode is the body sentinel for an accepted message.
	aligoSuccessCode = 0
)

type AligoConfig struct {
	APIKey          string
	UserID          string
	SenderKey       string
	TemplateCode    string
	SenderPhone     string
	SendURL         string
	FailoverSubject string
	FailoverMessage string
	Timeout         time.Duration
}

func (c AligoConfig) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"api key", c.APIKey},
		{"user id", c.UserID},
		{"sender key", c.SenderKey},
		{"template code", c.TemplateCode},
		{"sender phone", c.SenderPhone},
		{"failover subject", c.FailoverSubject},
		{"failover message", c.FailoverMessage},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: aligo %s is required", domain.ErrValidation, field.name)
		}
	}
	return nil
}

type aligoResponse struct {
	Code    jsonx.Scalar `json:"code"`
	Message string       `json:"message"`
}

// AligoProvider sends KakaoTalk alimtalk messages through the Aligo gateway,
// with an SMS failover body attached to every request.
type AligoProvider struct {
	client   *resty.Client
	endpoint string
	cfg      AligoConfig
}

func NewAligoProvider(cfg AligoConfig) (*AligoProvider, error) {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAligoTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewAligoProviderWithClient(cfg, client)
}

func NewAligoProviderWithClient(cfg AligoConfig, client *resty.Client) (*AligoProvider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(cfg.SendURL)
	if endpoint == "" {
		endpoint = DefaultAligoSendURL
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid aligo endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAligoTimeout)
	}
	client.SetRetryCount(0)

	return &AligoProvider{
		client:   client,
		endpoint: endpoint,
		cfg:      cfg,
	}, nil
}

func (p *AligoProvider) Send(ctx context.Context, phone string, fields domain.TemplateFields) domain.NotificationResult {
	if p == nil || p.client == nil {
		return failed(0, "", "", &ProviderError{Message: "provider is not initialized"})
	}
	if err := fields.Validate(); err != nil {
		return failed(0, "", "", &ProviderError{Message: "invalid template fields", Cause: err})
	}
	if strings.TrimSpace(phone) == "" {
		return failed(0, "", "", &ProviderError{Message: "recipient phone is required"})
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetFormData(p.formData(phone, fields)).
		Post(p.endpoint)
	if err != nil {
		return failed(0, "", "", &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		})
	}
	if response == nil {
		return failed(0, "", "", &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		})
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if statusCode != http.StatusOK {
		return failed(statusCode, "", body, &ProviderError{
			StatusCode: statusCode,
			Message:    providerErrorMessage(statusCode, body),
			Transient:  isTransientHTTPStatus(statusCode),
		})
	}

	var decoded aligoResponse
	if err := json.Unmarshal(response.Body(), &decoded); err != nil {
		return failed(statusCode, "", body, &ProviderError{
			StatusCode: statusCode,
			Message:    "provider returned malformed body",
			Cause:      err,
		})
	}

	if !decoded.Code.Is(aligoSuccessCode) {
		code := decoded.Code.String()
		if code == "" {
			code = "missing"
		}
		return failed(statusCode, code, body, &ProviderError{
			StatusCode: statusCode,
			Code:       code,
			Message:    strings.TrimSpace(decoded.Message),
		})
	}

	return domain.NotificationResult{
		Succeeded:   true,
		StatusCode:  statusCode,
		GatewayCode: decoded.Code.String(),
		RawResponse: body,
	}
}

func (p *AligoProvider) formData(phone string, fields domain.TemplateFields) map[string]string {
	data := map[string]string{
		"apikey":         p.cfg.APIKey,
		"userid":         p.cfg.UserID,
		"senderkey":      p.cfg.SenderKey,
		"tpl_code":       p.cfg.TemplateCode,
		"sender":         p.cfg.SenderPhone,
		"receiver_1":     phone,
		"subject_1":      fields.Subject,
		"message_1":      fields.Message,
		"templateEmType": "BASIC",
		"failover":       "Y",
		"fsubject_1":     p.cfg.FailoverSubject,
		"fmessage_1":     p.cfg.FailoverMessage,
	}
	if button := strings.TrimSpace(fields.ButtonJSON); button != "" {
		data["button_1"] = button
	}
	if testMode := strings.TrimSpace(fields.TestMode); testMode != "" {
		data["testMode"] = testMode
	}
	return data
}

func failed(statusCode int, code string, body string, err error) domain.NotificationResult {
	return domain.NotificationResult{
		Succeeded:   false,
		StatusCode:  statusCode,
		GatewayCode: code,
		RawResponse: body,
		Err:         err,
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
