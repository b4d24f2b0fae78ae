package source

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/order-notifier/internal/domain"
	"github.com/kursadbilgin/order-notifier/internal/jsonx"
)

const (
	DefaultCoupangBaseURL = "https://api-gateway.coupang.com"

	coupangOrderSheetsPath = "/v2/providers/openapi/apis/api/v4/vendors/%s/ordersheets"
	coupangSignedDate      = "060102T150405Z"
	coupangDateLayout      = "2006-01-02"
	coupangSuccessCode     = 200
	defaultCoupangPageSize = 50
)

type CoupangConfig struct {
	AccessKey   string
	SecretKey   string
	VendorID    string
	BaseURL     string
	OrderStatus string
	Window      time.Duration
	PageSize    int
	Timeout     time.Duration
}

type coupangOrdersResponse struct {
	Code      jsonx.Scalar        `json:"code"`
	Message   string              `json:"message"`
	Data      []coupangOrderSheet `json:"data"`
	NextToken string              `json:"nextToken"`
}

type coupangOrderSheet struct {
	OrderID  jsonx.Scalar    `json:"orderId"`
	Receiver coupangReceiver `json:"receiver"`
}

type coupangReceiver struct {
	SafeNumber     string `json:"safeNumber"`
	ReceiverNumber string `json:"receiverNumber"`
	Addr1          string `json:"addr1"`
}

// CoupangSource lists order sheets from the Coupang WING open API using
// CEA HMAC-SHA256 signed requests.
type CoupangSource struct {
	client  *resty.Client
	cfg     CoupangConfig
	baseURL string
	now     func() time.Time
}

func NewCoupangSource(cfg CoupangConfig) (*CoupangSource, error) {
	return NewCoupangSourceWithClient(cfg, newRestyClient(cfg.Timeout))
}

func NewCoupangSourceWithClient(cfg CoupangConfig, client *resty.Client) (*CoupangSource, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("%w: coupang access key and secret key are required", domain.ErrValidation)
	}
	if strings.TrimSpace(cfg.VendorID) == "" {
		return nil, fmt.Errorf("%w: coupang vendor id is required", domain.ErrValidation)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultCoupangBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid coupang base url: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultCoupangPageSize
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if strings.TrimSpace(cfg.OrderStatus) == "" {
		cfg.OrderStatus = "INSTRUCT"
	}
	client.SetRetryCount(0)

	return &CoupangSource{
		client:  client,
		cfg:     cfg,
		baseURL: baseURL,
		now:     time.Now,
	}, nil
}

func (s *CoupangSource) Marketplace() domain.Marketplace {
	return domain.MarketplaceCoupang
}

func (s *CoupangSource) DefaultQuery() domain.OrderQuery {
	return domain.OrderQuery{Status: s.cfg.OrderStatus, Window: s.cfg.Window}
}

func (s *CoupangSource) FetchRecentOrders(ctx context.Context, query domain.OrderQuery) ([]domain.NormalizedOrder, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	from, to := query.Range(now)
	path := fmt.Sprintf(coupangOrderSheetsPath, url.PathEscape(s.cfg.VendorID))

	params := url.Values{}
	params.Set("createdAtFrom", from.Format(coupangDateLayout))
	params.Set("createdAtTo", to.Format(coupangDateLayout))
	params.Set("status", query.Status)
	params.Set("maxPerPage", strconv.Itoa(s.cfg.PageSize))

	orders := make([]domain.NormalizedOrder, 0)
	for page := 0; page < maxPages; page++ {
		body, err := s.fetchPage(ctx, path, params)
		if err != nil {
			return nil, err
		}

		for _, sheet := range body.Data {
			phone := sheet.Receiver.SafeNumber
			if strings.TrimSpace(phone) == "" {
				phone = sheet.Receiver.ReceiverNumber
			}
			if order, ok := normalize(sheet.OrderID.String(), phone, sheet.Receiver.Addr1); ok {
				orders = append(orders, order)
			}
		}

		next := strings.TrimSpace(body.NextToken)
		if next == "" {
			return orders, nil
		}
		params.Set("nextToken", next)
	}

	return nil, unavailable(s.Marketplace(), "pagination exceeded %d pages", maxPages)
}

func (s *CoupangSource) fetchPage(ctx context.Context, path string, params url.Values) (*coupangOrdersResponse, error) {
	query := params.Encode()
	authorization := signCoupang(s.cfg.AccessKey, s.cfg.SecretKey, http.MethodGet, path, query, s.now())

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Authorization", authorization).
		SetHeader("Content-Type", "application/json;charset=UTF-8").
		SetHeader("X-Requested-By", s.cfg.VendorID).
		Get(s.baseURL + path + "?" + query)
	if err != nil {
		return nil, unavailableCause(s.Marketplace(), "request failed", err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, unavailable(s.Marketplace(), "status %d: %s", statusCode, bodySnippet(response.String()))
	}

	var body coupangOrdersResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		return nil, unavailableCause(s.Marketplace(), "malformed response", err)
	}
	if !body.Code.Is(coupangSuccessCode) {
		return nil, unavailable(s.Marketplace(), "code %s: %s", body.Code, strings.TrimSpace(body.Message))
	}

	return &body, nil
}

// signCoupang builds the CEA Authorization header value. The signed message
// is signed-date + method + path + raw query, keyed with the secret key.
func signCoupang(accessKey, secretKey, method, path, query string, at time.Time) string {
	signedDate := at.UTC().Format(coupangSignedDate)

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(signedDate + method + path + query))
	signature := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf(
		"CEA algorithm=HmacSHA256, access-key=%s, signed-date=%s, signature=%s",
		accessKey, signedDate, signature,
	)
}
