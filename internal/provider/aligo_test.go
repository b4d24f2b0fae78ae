package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kursadbilgin/order-notifier/internal/domain"
)

func testAligoConfig(endpoint string) AligoConfig {
	return AligoConfig{
		APIKey:          "api-key",
		UserID:          "user",
		SenderKey:       "sender-key",
		TemplateCode:    "TZ_0001",
		SenderPhone:     "15660000",
		SendURL:         endpoint,
		FailoverSubject: "접수완료",
		FailoverMessage: "접수 완료 되었습니다.",
		Timeout:         time.Second,
	}
}

func testFields() domain.TemplateFields {
	return domain.TemplateFields{
		Subject: "접수 완료 안내",
		Message: "서비스 신청해 주셔서 감사드립니다.",
	}
}

func newAligoServer(t *testing.T, status int, body string, capture *url.Values) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if capture != nil {
			*capture = r.PostForm
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAligoProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var form url.Values
	server := newAligoServer(t, http.StatusOK, `{"code":0,"message":"성공적으로 전송요청 하였습니다.","info":{"mid":1}}`, &form)

	p, err := NewAligoProvider(testAligoConfig(server.URL))
	require.NoError(t, err)

	fields := testFields()
	fields.ButtonJSON = `{"button":[{"name":"채널추가","linkType":"AC"}]}`
	fields.TestMode = "Y"

	result := p.Send(context.Background(), "010-0000-0002", fields)
	require.True(t, result.Succeeded, "result error: %v", result.Err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "0", result.GatewayCode)
	assert.NoError(t, result.Err)

	assert.Equal(t, "api-key", form.Get("apikey"))
	assert.Equal(t, "user", form.Get("userid"))
	assert.Equal(t, "sender-key", form.Get("senderkey"))
	assert.Equal(t, "TZ_0001", form.Get("tpl_code"))
	assert.Equal(t, "15660000", form.Get("sender"))
	assert.Equal(t, "010-0000-0002", form.Get("receiver_1"))
	assert.Equal(t, fields.Subject, form.Get("subject_1"))
	assert.Equal(t, fields.Message, form.Get("message_1"))
	assert.Equal(t, fields.ButtonJSON, form.Get("button_1"))
	assert.Equal(t, "Y", form.Get("testMode"))
	assert.Equal(t, "Y", form.Get("failover"))
	assert.Equal(t, "접수완료", form.Get("fsubject_1"))
	assert.Equal(t, "접수 완료 되었습니다.", form.Get("fmessage_1"))
}

func TestAligoProviderSendOmitsEmptyOptionalFields(t *testing.T) {
	t.Parallel()

	var form url.Values
	server := newAligoServer(t, http.StatusOK, `{"code":"0","message":"ok"}`, &form)

	p, err := NewAligoProvider(testAligoConfig(server.URL))
	require.NoError(t, err)

	result := p.Send(context.Background(), "01000000001", testFields())
	require.True(t, result.Succeeded)

	_, hasButton := form["button_1"]
	_, hasTestMode := form["testMode"]
	assert.False(t, hasButton)
	assert.False(t, hasTestMode)
	assert.Equal(t, "Y", form.Get("failover"))
}

func TestAligoProviderSendGatewaySentinelFailure(t *testing.T) {
	t.Parallel()

	server := newAligoServer(t, http.StatusOK, `{"code": 1, "message": "no sender key"}`, nil)

	p, err := NewAligoProvider(testAligoConfig(server.URL))
	require.NoError(t, err)

	result := p.Send(context.Background(), "010-0000-0002", testFields())
	assert.False(t, result.Succeeded)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "1", result.GatewayCode)
	assert.Contains(t, result.RawResponse, "no sender key")

	var providerErr *ProviderError
	require.True(t, errors.As(result.Err, &providerErr))
	assert.Equal(t, "1", providerErr.Code)
	assert.Equal(t, "no sender key", providerErr.Message)
	assert.Equal(t, ReasonGatewayRejected, FailureReason(result.Err))
}

func TestAligoProviderSendFailureClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		body          string
		wantTransient bool
		wantReason    string
	}{
		{name: "server error is transient", statusCode: http.StatusBadGateway, body: "bad gateway", wantTransient: true, wantReason: ReasonHTTPStatus},
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true, wantReason: ReasonHTTPStatus},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantReason: ReasonHTTPStatus},
		{name: "missing sentinel", statusCode: http.StatusOK, body: `{"message":"?"}`, wantReason: ReasonGatewayRejected},
		{name: "malformed body", statusCode: http.StatusOK, body: `<html>`, wantReason: ReasonMalformedBody},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := newAligoServer(t, tc.statusCode, tc.body, nil)
			p, err := NewAligoProvider(testAligoConfig(server.URL))
			require.NoError(t, err)

			result := p.Send(context.Background(), "01000000001", testFields())
			assert.False(t, result.Succeeded)
			assert.Equal(t, tc.statusCode, result.StatusCode)
			require.Error(t, result.Err)
			assert.Equal(t, tc.wantTransient, IsTransient(result.Err))
			assert.Equal(t, tc.wantReason, FailureReason(result.Err))
		})
	}
}

func TestAligoProviderSendTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New().SetTimeout(20 * time.Millisecond)
	p, err := NewAligoProviderWithClient(testAligoConfig(server.URL), client)
	require.NoError(t, err)

	result := p.Send(context.Background(), "01000000001", testFields())
	assert.False(t, result.Succeeded)
	require.Error(t, result.Err)
	assert.True(t, IsTransient(result.Err))
	assert.Equal(t, ReasonTimeout, FailureReason(result.Err))
}

func TestAligoProviderSendRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	p, err := NewAligoProvider(testAligoConfig("http://127.0.0.1:1/send"))
	require.NoError(t, err)

	result := p.Send(context.Background(), "01000000001", domain.TemplateFields{Subject: "only subject"})
	assert.False(t, result.Succeeded)
	assert.ErrorIs(t, result.Err, domain.ErrValidation)

	result = p.Send(context.Background(), " ", testFields())
	assert.False(t, result.Succeeded)
	assert.Error(t, result.Err)
}

func TestNewAligoProviderValidation(t *testing.T) {
	t.Parallel()

	cfg := testAligoConfig("")
	cfg.FailoverMessage = ""
	_, err := NewAligoProvider(cfg)
	assert.ErrorIs(t, err, domain.ErrValidation)

	p, err := NewAligoProvider(testAligoConfig(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultAligoSendURL, p.endpoint)

	_, err = NewAligoProviderWithClient(testAligoConfig("http://localhost"), nil)
	assert.Error(t, err)
}
