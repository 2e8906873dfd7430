// Package payment reads payment slips. Recognising the slip image is left to
// an external OCR service; this package turns its text into an amount and the
// name of the account that received the money.
package payment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrAmountNotFound = errors.New("no amount found on slip")

// Result is the outcome of verifying one slip
type Result struct {
	Success      bool            `json:"success"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty"`
	Reference    string          `json:"reference"`
}

// Verifier checks a slip identified by ref, usually the id of an uploaded image
type Verifier interface {
	Verify(ctx context.Context, ref string) (*Result, error)
}

// OCR extracts the text of a slip image
type OCR interface {
	Recognize(ctx context.Context, ref string) (string, error)
}

// OCRFunc adapts a function to the OCR interface
type OCRFunc func(ctx context.Context, ref string) (string, error)

func (f OCRFunc) Recognize(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// TextVerifier verifies slips from their recognised text
type TextVerifier struct {
	ocr OCR
}

func NewTextVerifier(ocr OCR) *TextVerifier {
	return &TextVerifier{ocr: ocr}
}

// Verify reports Success=false rather than an error when the slip text holds
// no amount; errors are reserved for OCR failures.
func (v *TextVerifier) Verify(ctx context.Context, ref string) (*Result, error) {
	text, err := v.ocr.Recognize(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read slip %s: %w", ref, err)
	}

	res := &Result{Reference: ref, Counterparty: ExtractCounterparty(text)}
	amount, err := ExtractAmount(text)
	if err != nil {
		return res, nil
	}
	res.Amount = amount
	res.Success = amount.IsPositive()
	return res, nil
}

// NoopVerifier rejects every slip. It is used when no OCR service is configured.
type NoopVerifier struct{}

func (NoopVerifier) Verify(_ context.Context, ref string) (*Result, error) {
	return &Result{Reference: ref}, nil
}

// keywordPattern matches any of keywords, case-insensitively. The leftmost
// match is the earliest occurrence of any of them.
func keywordPattern(keywords ...string) *regexp.Regexp {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
}
