package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/order-notifier/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultNaverBaseURL = "https://api.commerce.naver.com"

	naverTokenPath       = "/external/v1/oauth2/token"
	naverOrdersPath      = "/external/v1/pay-order/seller/product-orders"
	naverTimeLayout      = "2006-01-02T15:04:05.000-07:00"
	naverMaxWindow       = 24 * time.Hour
	defaultNaverPageSize = 100

	// naverTokenMargin is subtracted from expires_in before caching.
	naverTokenMargin = 5 * time.Minute
)

var kst = time.FixedZone("KST", 9*60*60)

// TokenCache stores bearer tokens between runs. Get reports ok=false on a miss.
// Delete drops a token the API no longer accepts.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// errTokenRejected marks a 401 from the orders endpoint.
var errTokenRejected = errors.New("naver access token rejected")

type NaverConfig struct {
	ClientID     string
	ClientSecret string
	AccountID    string
	Type         string
	BaseURL      string
	OrderStatus  string
	PageSize     int
	Timeout      time.Duration
}

type naverTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type naverOrdersResponse struct {
	Data struct {
		Contents   []naverContentItem `json:"contents"`
		Pagination struct {
			Page    int  `json:"page"`
			Size    int  `json:"size"`
			HasNext bool `json:"hasNext"`
		} `json:"pagination"`
	} `json:"data"`
}

type naverContentItem struct {
	ProductOrderID string `json:"productOrderId"`
	Content        struct {
		Order struct {
			OrderID    string `json:"orderId"`
			OrdererTel string `json:"ordererTel"`
		} `json:"order"`
		ProductOrder struct {
			ProductOrderID  string `json:"productOrderId"`
			ShippingAddress struct {
				BaseAddress string `json:"baseAddress"`
			} `json:"shippingAddress"`
		} `json:"productOrder"`
	} `json:"content"`
}

// NaverSource queries Naver Commerce product orders with an OAuth2
// client-credentials bearer token.
type NaverSource struct {
	client  *resty.Client
	cfg     NaverConfig
	baseURL string
	cache   TokenCache
	logger  *zap.Logger
	now     func() time.Time
}

func NewNaverSource(cfg NaverConfig, cache TokenCache, logger *zap.Logger) (*NaverSource, error) {
	return NewNaverSourceWithClient(cfg, newRestyClient(cfg.Timeout), cache, logger)
}

func NewNaverSourceWithClient(cfg NaverConfig, client *resty.Client, cache TokenCache, logger *zap.Logger) (*NaverSource, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: naver client id and secret are required", domain.ErrValidation)
	}
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, fmt.Errorf("%w: naver account id is required", domain.ErrValidation)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultNaverBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid naver base url: %w", err)
	}
	cfg.Type = strings.ToUpper(strings.TrimSpace(cfg.Type))
	if cfg.Type == "" {
		cfg.Type = "SELLER"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultNaverPageSize
	}
	if strings.TrimSpace(cfg.OrderStatus) == "" {
		cfg.OrderStatus = "PAYED"
	}
	client.SetRetryCount(0)

	return &NaverSource{
		client:  client,
		cfg:     cfg,
		baseURL: baseURL,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *NaverSource) Marketplace() domain.Marketplace {
	return domain.MarketplaceNaver
}

func (s *NaverSource) DefaultQuery() domain.OrderQuery {
	return domain.OrderQuery{Status: s.cfg.OrderStatus, Window: naverMaxWindow}
}

func (s *NaverSource) FetchRecentOrders(ctx context.Context, query domain.OrderQuery) ([]domain.NormalizedOrder, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if query.Window > naverMaxWindow {
		query.Window = naverMaxWindow
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	from, to := query.Range(s.now().In(kst))
	params := url.Values{}
	params.Set("from", from.Format(naverTimeLayout))
	params.Set("to", to.Format(naverTimeLayout))
	params.Set("rangeType", "PAYED_DATETIME")
	params.Set("productOrderStatuses", query.Status)
	params.Set("placeOrderStatusType", "OK")
	params.Set("pageSize", strconv.Itoa(s.cfg.PageSize))

	orders := make([]domain.NormalizedOrder, 0)
	seen := make(map[string]struct{})
	renewed := false
	for page := 1; page <= maxPages; page++ {
		params.Set("page", strconv.Itoa(page))

		body, err := s.fetchPage(ctx, token, params)
		if errors.Is(err, errTokenRejected) && !renewed {
			renewed = true
			s.logger.Warn("naver rejected the access token, issuing a new one", zap.Int("page", page))
			if token, err = s.renewToken(ctx); err != nil {
				return nil, err
			}
			body, err = s.fetchPage(ctx, token, params)
		}
		if err != nil {
			return nil, err
		}

		for _, item := range body.Data.Contents {
			content := item.Content
			order, ok := normalize(content.Order.OrderID, content.Order.OrdererTel, content.ProductOrder.ShippingAddress.BaseAddress)
			if !ok {
				continue
			}
			// One order may carry several product orders.
			if _, dup := seen[order.OrderID]; dup {
				continue
			}
			seen[order.OrderID] = struct{}{}
			orders = append(orders, order)
		}

		if !body.Data.Pagination.HasNext {
			return orders, nil
		}
	}

	return nil, unavailable(s.Marketplace(), "pagination exceeded %d pages", maxPages)
}

func (s *NaverSource) fetchPage(ctx context.Context, token string, params url.Values) (*naverOrdersResponse, error) {
	response, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetQueryParamsFromValues(params).
		Get(s.baseURL + naverOrdersPath)
	if err != nil {
		return nil, unavailableCause(s.Marketplace(), "request failed", err)
	}

	statusCode := response.StatusCode()
	if statusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %w", errTokenRejected,
			unavailable(s.Marketplace(), "status %d: %s", statusCode, bodySnippet(response.String())))
	}
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, unavailable(s.Marketplace(), "status %d: %s", statusCode, bodySnippet(response.String()))
	}

	var body naverOrdersResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		return nil, unavailableCause(s.Marketplace(), "malformed response", err)
	}
	return &body, nil
}

func (s *NaverSource) tokenCacheKey() string {
	return "naver:token:" + s.cfg.ClientID + ":" + s.cfg.AccountID
}

func (s *NaverSource) accessToken(ctx context.Context) (string, error) {
	if s.cache != nil {
		token, ok, err := s.cache.Get(ctx, s.tokenCacheKey())
		if err != nil {
			s.logger.Warn("naver token cache read failed", zap.Error(err))
		} else if ok && token != "" {
			return token, nil
		}
	}
	return s.issueAndCacheToken(ctx)
}

// renewToken drops the cached token and issues a fresh one. The fresh token
// overwrites the cache entry even when the delete failed.
func (s *NaverSource) renewToken(ctx context.Context) (string, error) {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, s.tokenCacheKey()); err != nil {
			s.logger.Warn("naver token cache delete failed", zap.Error(err))
		}
	}
	return s.issueAndCacheToken(ctx)
}

func (s *NaverSource) issueAndCacheToken(ctx context.Context) (string, error) {
	token, ttl, err := s.issueToken(ctx)
	if err != nil {
		return "", err
	}

	if s.cache != nil && ttl > 0 {
		if err := s.cache.Set(ctx, s.tokenCacheKey(), token, ttl); err != nil {
			s.logger.Warn("naver token cache write failed", zap.Error(err))
		}
	}
	return token, nil
}

func (s *NaverSource) issueToken(ctx context.Context) (string, time.Duration, error) {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	signature, err := naverSignature(s.cfg.ClientID, s.cfg.ClientSecret, timestamp)
	if err != nil {
		return "", 0, unavailableCause(s.Marketplace(), "client secret signature", err)
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetFormData(map[string]string{
			"client_id":          s.cfg.ClientID,
			"grant_type":         "client_credentials",
			"timestamp":          timestamp,
			"client_secret_sign": signature,
			"type":               s.cfg.Type,
			"account_id":         s.cfg.AccountID,
		}).
		Post(s.baseURL + naverTokenPath)
	if err != nil {
		return "", 0, unavailableCause(s.Marketplace(), "token request failed", err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return "", 0, unavailable(s.Marketplace(), "token status %d: %s", statusCode, bodySnippet(response.String()))
	}

	var body naverTokenResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		return "", 0, unavailableCause(s.Marketplace(), "malformed token response", err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", 0, unavailable(s.Marketplace(), "token response has no access_token")
	}

	ttl := time.Duration(body.ExpiresIn)*time.Second - naverTokenMargin
	return body.AccessToken, ttl, nil
}
