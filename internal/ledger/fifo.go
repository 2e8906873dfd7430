package ledger

import (
	"github.com/shopspring/decimal"

	"shopbot-service/internal/models"
)

// available sums what is left over the active batches of an ingredient
func available(ing *models.Ingredient) decimal.Decimal {
	total := decimal.Zero
	for _, b := range ing.ReceiptInfo {
		if b.IsActive {
			total = total.Add(b.Available())
		}
	}
	return total
}

// consumeFIFO takes need units from the active batches of ing in stored order.
// ing is mutated only when the whole amount can be covered.
func consumeFIFO(ing *models.Ingredient, orderID string, need decimal.Decimal) (models.ConsumedIngredient, error) {
	if have := available(ing); have.LessThan(need) {
		return models.ConsumedIngredient{}, &models.InsufficientIngredientError{
			IngredientID: ing.ID,
			Name:         ing.Name,
			Required:     need,
			Available:    have,
		}
	}

	remaining := need
	cost := decimal.Zero
	for i := range ing.ReceiptInfo {
		if remaining.Sign() <= 0 {
			break
		}
		b := &ing.ReceiptInfo[i]
		if !b.IsActive {
			continue
		}
		left := b.Available()
		if left.Sign() <= 0 {
			continue
		}

		portion := decimal.Min(left, remaining)
		price := b.Price.Mul(portion)
		b.QuantityUsed = b.QuantityUsed.Add(portion)
		b.ReceiptUsedOrder = append(b.ReceiptUsedOrder, models.ReceiptUsage{
			OrderID:  orderID,
			Quantity: portion,
			Price:    price,
		})
		if b.QuantityUsed.Equal(b.Quantity) {
			b.IsActive = false
		}

		remaining = remaining.Sub(portion)
		cost = cost.Add(price)
	}

	ing.Quantity = ing.Quantity.Sub(need)

	return models.ConsumedIngredient{
		IngredientID: ing.ID,
		Name:         ing.Name,
		Quantity:     need,
		Price:        cost,
	}, nil
}

// reverseOrder gives back everything orderID took from ing and returns the
// reclaimed amount. A second call finds no entries and reclaims zero.
func reverseOrder(ing *models.Ingredient, orderID string) decimal.Decimal {
	reclaimed := decimal.Zero
	for i := range ing.ReceiptInfo {
		b := &ing.ReceiptInfo[i]
		kept := b.ReceiptUsedOrder[:0]
		for _, u := range b.ReceiptUsedOrder {
			if u.OrderID == orderID {
				b.QuantityUsed = b.QuantityUsed.Sub(u.Quantity)
				reclaimed = reclaimed.Add(u.Quantity)
				continue
			}
			kept = append(kept, u)
		}
		b.ReceiptUsedOrder = kept
		if b.QuantityUsed.LessThan(b.Quantity) {
			b.IsActive = true
		}
	}
	ing.Quantity = ing.Quantity.Add(reclaimed)
	return reclaimed
}
