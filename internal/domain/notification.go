package domain

import (
	"fmt"
	"strings"
)

// TemplateFields are the per-message placeholders sent to the gateway.
// ButtonJSON and TestMode are optional.
type TemplateFields struct {
	Subject    string
	Message    string
	ButtonJSON string
	TestMode   string
}

func (f TemplateFields) Validate() error {
	if strings.TrimSpace(f.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(f.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return nil
}

// NotificationResult is the outcome of one gateway call. Only Succeeded
// drives the sent record; the rest is kept for logs and the attempt audit.
type NotificationResult struct {
	Succeeded   bool
	StatusCode  int
	GatewayCode string
	RawResponse string
	Err         error
}
