// Package nlu turns free-text chat messages into intents with arguments.
package nlu

import (
	"context"
	"strings"

	"shopbot-service/internal/models"
)

type Intent string

const (
	IntentNotUnderstood Intent = "not_understood"
	IntentPlaceOrder    Intent = "place_order"
	IntentEditItems     Intent = "edit_items"
	IntentEditAddress   Intent = "edit_address"
	IntentShowCart      Intent = "show_cart"
	IntentGetProduct    Intent = "get_product"
	IntentConfirm       Intent = "confirm"
	IntentCancel        Intent = "cancel"
)

var knownIntents = map[Intent]struct{}{
	IntentNotUnderstood: {},
	IntentPlaceOrder:    {},
	IntentEditItems:     {},
	IntentEditAddress:   {},
	IntentShowCart:      {},
	IntentGetProduct:    {},
	IntentConfirm:       {},
	IntentCancel:        {},
}

// ParseIntent maps anything it does not know to IntentNotUnderstood
func ParseIntent(s string) Intent {
	i := Intent(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownIntents[i]; ok {
		return i
	}
	return IntentNotUnderstood
}

// Classification is a classified message. Only the fields of its intent are
// set; Text holds the original message when the intent is not understood.
type Classification struct {
	Intent        Intent                `json:"intent"`
	Text          string                `json:"text,omitempty"`
	Items         []models.ItemRequest  `json:"items,omitempty"`
	Modifications []models.Modification `json:"modifications,omitempty"`
	Address       string                `json:"address,omitempty"`
	CustomerName  string                `json:"customerName,omitempty"`
	ProductName   string                `json:"productName,omitempty"`
}

// Classifier reads a message against the store menu and the open cart of
// the customer. cart is nil when there is no open cart.
type Classifier interface {
	Classify(ctx context.Context, text string, menu []string, cart *models.CurrentOrder) (*Classification, error)
}

func notUnderstood(text string) *Classification {
	return &Classification{Intent: IntentNotUnderstood, Text: text}
}
