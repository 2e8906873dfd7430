package conversation

import (
	"errors"
	"fmt"
	"strings"

	"shopbot-service/internal/models"
	"shopbot-service/internal/payment"
	"shopbot-service/internal/service"
)

// Action is a quick-reply button; Data is sent back as a postback
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Reply is one outgoing chat message
type Reply struct {
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

var (
	confirmAction   = Action{Label: "Confirm", Data: "action=" + ActionConfirm}
	cancelAction    = Action{Label: "Cancel", Data: "action=" + ActionCancel}
	cartAction      = Action{Label: "Show cart", Data: "action=" + ActionShowCart}
	callStaffAction = Action{Label: "Call staff", Data: "action=" + ActionCallStaff}
)

func text(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

func cartReply(view *service.CartView) Reply {
	var b strings.Builder
	b.WriteString("Your order:\n")
	for _, it := range view.Items {
		fmt.Fprintf(&b, "- %s x%d", it.Name, it.Quantity)
		if it.Customization != "" {
			fmt.Fprintf(&b, " (%s)", it.Customization)
		}
		fmt.Fprintf(&b, "  %s\n", it.Subtotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s", view.Total.StringFixed(2))
	if view.DeliveryAddress != "" {
		fmt.Fprintf(&b, "\nDeliver to: %s", view.DeliveryAddress)
	}
	return Reply{Text: b.String(), Actions: []Action{confirmAction, cancelAction}}
}

func cartReplies(state *models.ConversationState) []Reply {
	if !state.HasCart() {
		return []Reply{text("Your cart is empty now.")}
	}
	replies := []Reply{cartReply(service.NewCartView(state.CurrentOrder))}
	if state.CurrentOrder.DeliveryAddress == "" {
		replies = append(replies, text("Where should we deliver? Send \"address\" followed by your address."))
	}
	return replies
}

func menuReply(products []models.Product) Reply {
	if len(products) == 0 {
		return text("The menu is empty right now.")
	}
	var b strings.Builder
	b.WriteString("Menu:")
	for _, p := range products {
		fmt.Fprintf(&b, "\n- %s  %s", p.Name, p.Price.StringFixed(2))
	}
	return Reply{Text: b.String(), Actions: []Action{cartAction}}
}

func placedReply(placed *service.PlacedOrder) Reply {
	return text("Order %s confirmed. Total %s. Please send a photo of your payment slip.",
		shortID(placed.Order.ID), placed.Transaction.TotalAmount.StringFixed(2))
}

func slipReply(res *payment.Result) Reply {
	return text("Payment of %s received, thank you! We are preparing your order.", res.Amount.StringFixed(2))
}

func helpReply() Reply {
	return Reply{
		Text:    "Sorry, I did not understand. Try \"menu\", \"order 2 Pad Krapow to <address>\" or \"cart\".",
		Actions: []Action{cartAction, callStaffAction},
	}
}

// errorReply turns a domain error into a message for the customer. ok is
// false for errors that are not the customer's to see.
func errorReply(err error) (Reply, bool) {
	var short *models.InsufficientIngredientError
	switch {
	case errors.As(err, &short):
		return text("Sorry, we are running out of %s. Please change your order.", short.Name), true
	case errors.Is(err, models.ErrNoActiveOrder):
		return text("You have no open order. Send \"menu\" to start one."), true
	case errors.Is(err, models.ErrMissingDeliveryAddress):
		return text("Please send your delivery address first, e.g. \"address 12 Sukhumvit Rd\"."), true
	case errors.Is(err, models.ErrDuplicateConfirmation):
		return text("Your order is already being confirmed."), true
	case errors.Is(err, models.ErrProductUnavailable):
		return text("Something in your cart is no longer available. Please check your cart."), true
	case errors.Is(err, models.ErrPaymentNotConfirmed):
		return Reply{Text: "We could not confirm this payment slip. Staff will check it for you.",
			Actions: []Action{callStaffAction}}, true
	case errors.Is(err, models.ErrConcurrencyConflict):
		return text("We are busy right now, please try again in a moment."), true
	case errors.Is(err, models.ErrNotFound):
		return text("Sorry, we could not find that."), true
	}
	return Reply{}, false
}

func shortID(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}
