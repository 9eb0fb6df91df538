package negotiate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrNoCredential = errors.New("no credential configured")

// CredentialSource 提供协商所用的 Bearer 凭证
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// StaticCredential 固定 API Key
type StaticCredential string

func (c StaticCredential) Credential(context.Context) (string, error) {
	if strings.TrimSpace(string(c)) == "" {
		return "", &NegotiationError{Reason: ReasonCredential, Err: ErrNoCredential}
	}
	return string(c), nil
}

// EphemeralCredential 每次协商前从令牌服务换取临时 key
type EphemeralCredential struct {
	TokenURL string
	APIKey   string // 可选，访问令牌服务时携带
	Model    string
	Voice    string
	Client   *http.Client
	Timeout  time.Duration
}

// tokenResponse 兼容 {"client_secret":{"value":...}} 与 {"value":...}/{"token":...} 两种形态
type tokenResponse struct {
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Value string `json:"value"`
	Token string `json:"token"`
}

func (r *tokenResponse) secret() string {
	switch {
	case r.ClientSecret != nil && r.ClientSecret.Value != "":
		return r.ClientSecret.Value
	case r.Value != "":
		return r.Value
	default:
		return r.Token
	}
}

func (c *EphemeralCredential) Credential(ctx context.Context) (string, error) {
	if c.TokenURL == "" {
		return "", &NegotiationError{Reason: ReasonCredential, Err: ErrNoCredential}
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	payload := map[string]string{}
	if c.Model != "" {
		payload["model"] = c.Model
	}
	if c.Voice != "" {
		payload["voice"] = c.Voice
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &NegotiationError{Reason: ReasonCredential, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(string(body)))
	if err != nil {
		return "", &NegotiationError{Reason: ReasonCredential, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", &NegotiationError{Reason: ReasonCredential, Err: fmt.Errorf("token request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", &NegotiationError{Reason: ReasonCredential, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &NegotiationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw)), Reason: ReasonCredential,
			Err: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", &NegotiationError{Reason: ReasonCredential, Err: fmt.Errorf("decode token response: %w", err)}
	}
	secret := tr.secret()
	if secret == "" {
		return "", &NegotiationError{Reason: ReasonCredential, Err: errors.New("token response carried no secret")}
	}
	return secret, nil
}

// NewCredentialSource 配置了 tokenURL 时使用临时 key，否则使用固定 key
func NewCredentialSource(apiKey, tokenURL, model, voice string) CredentialSource {
	if tokenURL != "" {
		return &EphemeralCredential{
			TokenURL: tokenURL,
			APIKey:   apiKey,
			Model:    model,
			Voice:    voice,
			Client:   &http.Client{},
			Timeout:  10 * time.Second,
		}
	}
	return StaticCredential(apiKey)
}
