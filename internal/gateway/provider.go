package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, toAddress, text string) (SendResult, error)
}

type HTTPProvider struct {
	name     string
	baseURL  string
	sendPath string
	client   *http.Client
	br       *MicroBreaker
}

func NewHTTPProvider(
	name, baseURL, sendPath string,
	timeoutMs, failThreshold, openForMs int,
) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPProvider{
		name:     name,
		baseURL:  baseURL,
		sendPath: sendPath,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

func (p *HTTPProvider) Send(ctx context.Context, to, text string) (SendResult, error) {
	res, err := p.post(ctx, sendRequest{To: to, Text: text})
	if err != nil {
		p.br.OnFailure()
		return SendResult{}, err
	}

	p.br.OnSuccess()

	return res, nil
}

func (p *HTTPProvider) post(ctx context.Context, payload sendRequest) (SendResult, error) {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.sendPath, bytes.NewReader(b))
	if err != nil {
		return SendResult{}, err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}

	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))

	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	if res.StatusCode/100 != 2 {
		reason := strings.TrimSpace(parsed.Error)
		if reason == "" {
			reason = fmt.Sprintf("status=%d", res.StatusCode)
		}
		return SendResult{}, fmt.Errorf("provider=%s %s", p.name, reason)
	}

	return SendResult{ProviderMessageID: parsed.MessageID}, nil
}
