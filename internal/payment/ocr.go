package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPOCR asks an OCR service for the text of a slip image. The service takes
// {"reference": ref} and answers {"text": "..."}.
type HTTPOCR struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPOCR(endpoint, apiKey string, timeout time.Duration) *HTTPOCR {
	return &HTTPOCR{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type ocrRequest struct {
	Reference string `json:"reference"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

func (o *HTTPOCR) Recognize(ctx context.Context, ref string) (string, error) {
	body, err := json.Marshal(ocrRequest{Reference: ref})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr service returned status %d", resp.StatusCode)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Text, nil
}
