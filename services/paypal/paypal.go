package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// Config PayPal 接入配置（来自 settings 的 paypal 组）
type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	APIBase      string
	PlanID       string
	Currency     string
}

// Client PayPal REST 客户端。访问令牌在进程内缓存到过期前一分钟。
type Client struct {
	cfg        Config
	httpClient *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient 创建 PayPal 客户端
func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api-m.paypal.com"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// Configured clientId/clientSecret 是否已配置
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// getAccessToken client-credentials 方式换取访问令牌，带进程内缓存
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIBase+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("PayPal 令牌接口不可达: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("PayPal 令牌接口返回状态 %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("PayPal 令牌响应解析失败: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("PayPal 令牌响应缺少 access_token")
	}

	c.accessToken = parsed.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}

// doJSON 带令牌发一次 JSON 请求
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBase+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	// 幂等键，避免网络抖动时重复建单
	req.Header.Set("PayPal-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("PayPal 接口不可达: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// SubscriptionResult 创建订阅的结果
type SubscriptionResult struct {
	SubscriptionID string `json:"subscription_id"`
	ApprovalURL    string `json:"approval_url"`
	Status         string `json:"status"`
}

// CreateSubscription 创建一笔待批准的订阅，返回买家跳转的 approval 链接
func (c *Client) CreateSubscription(ctx context.Context, email, name, returnURL, cancelURL string) (*SubscriptionResult, error) {
	if c.cfg.PlanID == "" {
		return nil, fmt.Errorf("paypal 配置缺少 planId")
	}

	body := map[string]interface{}{
		"plan_id": c.cfg.PlanID,
		"application_context": map[string]interface{}{
			"return_url":  returnURL,
			"cancel_url":  cancelURL,
			"user_action": "SUBSCRIBE_NOW",
		},
	}
	if email != "" {
		subscriber := map[string]interface{}{
			"email_address": email,
		}
		if name != "" {
			subscriber["name"] = map[string]interface{}{"given_name": name}
		}
		body["subscriber"] = subscriber
	}

	status, respBody, err := c.doJSON(ctx, http.MethodPost, "/v1/billing/subscriptions", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("PayPal 创建订阅返回状态 %d: %s", status, string(respBody))
	}

	var parsed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("PayPal 订阅响应解析失败: %w", err)
	}

	result := &SubscriptionResult{SubscriptionID: parsed.ID, Status: parsed.Status}
	for _, link := range parsed.Links {
		if link.Rel == "approve" {
			result.ApprovalURL = link.Href
			break
		}
	}
	if result.ApprovalURL == "" {
		utils.LogWarn(fmt.Sprintf("PayPal 订阅 %s 响应里没有 approve 链接", parsed.ID))
	}
	return result, nil
}

// VerifyWebhookSignature 调用 PayPal 的验签接口确认 webhook 真实性
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers http.Header, rawEvent json.RawMessage) (bool, error) {
	if c.cfg.WebhookID == "" {
		return false, fmt.Errorf("paypal 配置缺少 webhookId，无法验签")
	}

	body := map[string]interface{}{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     rawEvent,
	}

	status, respBody, err := c.doJSON(ctx, http.MethodPost,
		"/v1/notifications/verify-webhook-signature", body)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("PayPal 验签接口返回状态 %d", status)
	}

	var parsed struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return false, err
	}
	return parsed.VerificationStatus == "SUCCESS", nil
}
