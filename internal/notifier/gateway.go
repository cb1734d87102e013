package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/trustguard/riskcore/configs"
)

// Channel is a delivery channel the gateway understands.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Notification is the inner payload of a gateway send.
type Notification struct {
	Template   string                 `json:"template"`
	Priority   string                 `json:"priority"`
	RegionCode string                 `json:"region_code"`
	Data       map[string]interface{} `json:"data"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SendRequest is the gateway wire format.
type SendRequest struct {
	Channel      Channel      `json:"channel"`
	Recipient    string       `json:"recipient"`
	Notification Notification `json:"notification"`
	Tracking     Tracking     `json:"tracking"`
}

// Tracking identifies the send for idempotent retries. RequestID carries the
// alert id.
type Tracking struct {
	SourceSystem string `json:"source_system"`
	RequestID    string `json:"request_id"`
}

// SendResponse is the gateway reply on HTTP 200.
type SendResponse struct {
	Success        bool   `json:"success"`
	NotificationID string `json:"notification_id"`
	DeliveryStatus string `json:"delivery_status"`
	Error          string `json:"error,omitempty"`
}

// Gateway delivers one notification. Implementations must be idempotent on
// tracking.request_id.
type Gateway interface {
	Send(ctx context.Context, tenantID string, req *SendRequest) (*SendResponse, error)
}

// HTTPGateway is the production notification gateway client. Every request is
// signed with HMAC-SHA256 over body, timestamp and tenant id.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
}

func NewHTTPGateway(cfg configs.NotifierConfig) *HTTPGateway {
	return &HTTPGateway{
		baseURL: cfg.GatewayBaseURL,
		apiKey:  cfg.GatewayAPIKey,
		secret:  cfg.GatewaySecret,
		client:  &http.Client{Timeout: cfg.CallTimeout},
	}
}

func (g *HTTPGateway) Send(ctx context.Context, tenantID string, sendReq *SendRequest) (*SendResponse, error) {
	body, err := json.Marshal(sendReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signature := sign(g.secret, body, ts, tenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/v2/notifications/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", g.apiKey)
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", signature)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	var out SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return &out, nil
}

// sign computes base64(HMAC-SHA256(secret, body "." ts "." tenantID)).
func sign(secret string, body []byte, ts, tenantID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("."))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write([]byte(tenantID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
