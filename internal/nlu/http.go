package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"shopbot-service/internal/models"
	"shopbot-service/internal/util"
)

// HTTPClassifier asks an external language-understanding endpoint to
// classify a message.
type HTTPClassifier struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type classifyRequest struct {
	Text string               `json:"text"`
	Menu []string             `json:"menu"`
	Cart *models.CurrentOrder `json:"cart,omitempty"`
}

type classifyResponse struct {
	Intent        string                `json:"intent"`
	Items         []models.ItemRequest  `json:"items"`
	Modifications []models.Modification `json:"modifications"`
	Address       string                `json:"address"`
	CustomerName  string                `json:"customerName"`
	ProductName   string                `json:"productName"`
}

func NewHTTPClassifier(endpoint, apiKey string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Classify returns models.ErrClassifierTimeout when the endpoint does not
// answer in time and models.ErrClassifierUnavailable for any other failure.
func (c *HTTPClassifier) Classify(ctx context.Context, text string, menu []string, cart *models.CurrentOrder) (*Classification, error) {
	start := time.Now()
	defer func() {
		util.ClassifierLatency.Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(classifyRequest{Text: text, Menu: menu, Cart: cart})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			util.ClassifierFailuresTotal.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: %v", models.ErrClassifierTimeout, err)
		}
		util.ClassifierFailuresTotal.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		util.ClassifierFailuresTotal.WithLabelValues("status").Inc()
		return nil, fmt.Errorf("%w: unexpected status: %d", models.ErrClassifierUnavailable, resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		util.ClassifierFailuresTotal.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("%w: decode response: %v", models.ErrClassifierUnavailable, err)
	}

	intent := ParseIntent(out.Intent)
	if intent == IntentNotUnderstood {
		return notUnderstood(text), nil
	}
	return &Classification{
		Intent:        intent,
		Items:         out.Items,
		Modifications: out.Modifications,
		Address:       strings.TrimSpace(out.Address),
		CustomerName:  strings.TrimSpace(out.CustomerName),
		ProductName:   strings.TrimSpace(out.ProductName),
	}, nil
}

func (c *HTTPClassifier) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
