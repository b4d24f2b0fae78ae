package domain

import "time"

// DispatchAttempt records a single gateway call for one order.
type DispatchAttempt struct {
	ID           string
	RunID        string
	Marketplace  Marketplace
	OrderID      string
	Succeeded    bool
	StatusCode   *int
	GatewayCode  *string
	ResponseBody *string
	Error        *string
	CreatedAt    time.Time
}

// NewDispatchAttempt builds an attempt row from a gateway result.
func NewDispatchAttempt(runID string, marketplace Marketplace, orderID string, result NotificationResult) *DispatchAttempt {
	attempt := &DispatchAttempt{
		RunID:       runID,
		Marketplace: marketplace,
		OrderID:     orderID,
		Succeeded:   result.Succeeded,
	}
	if result.StatusCode > 0 {
		value := result.StatusCode
		attempt.StatusCode = &value
	}
	if result.GatewayCode != "" {
		value := result.GatewayCode
		attempt.GatewayCode = &value
	}
	if result.RawResponse != "" {
		value := result.RawResponse
		attempt.ResponseBody = &value
	}
	if result.Err != nil {
		value := result.Err.Error()
		attempt.Error = &value
	}
	return attempt
}
