package nlu

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"shopbot-service/internal/models"
)

// KeywordClassifier understands a small command grammar, in English or Thai:
//
//	order 3 Pad Krapow, 1 Egg (crispy) to 12 Sukhumvit Rd
//	add 2 Egg; remove Pad Krapow; replace Egg with 2 Fried Rice
//	address 99 Silom Rd
//	menu [name]
//	cart | confirm | cancel
//
// Item names are spelled the way the menu or the cart spells them when they
// match case-insensitively. It is the fallback for stores that have no
// classifier endpoint.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var (
	orderPrefixes   = []string{"order", "สั่ง"}
	addPrefixes     = []string{"add", "เพิ่ม"}
	removePrefixes  = []string{"remove", "ลบ"}
	replacePrefixes = []string{"replace", "เปลี่ยน"}
	addressPrefixes = []string{"address", "ที่อยู่"}
	menuPrefixes    = []string{"menu", "price", "เมนู", "ราคา"}
	cartWords       = []string{"cart", "show cart", "ตะกร้า", "ดูตะกร้า"}
	confirmWords    = []string{"confirm", "ยืนยัน"}
	cancelWords     = []string{"cancel", "ยกเลิก"}

	leadingQty  = regexp.MustCompile(`^(\d+)\s+(?:x\s+)?(.+)$`)
	trailingQty = regexp.MustCompile(`^(.+?)\s+[x×]\s*(\d+)$`)
	custom      = regexp.MustCompile(`^(.*?)\s*\(([^)]*)\)\s*$`)
)

func (k *KeywordClassifier) Classify(_ context.Context, text string, menu []string, cart *models.CurrentOrder) (*Classification, error) {
	c := k.classify(strings.TrimSpace(text))
	if c.Intent == IntentNotUnderstood {
		return notUnderstood(text), nil
	}
	names := knownNames(menu, cart)
	c.ProductName = names.spell(c.ProductName)
	for i := range c.Items {
		c.Items[i].Name = names.spell(c.Items[i].Name)
	}
	for i := range c.Modifications {
		c.Modifications[i].Name = names.spell(c.Modifications[i].Name)
		c.Modifications[i].ReplacementName = names.spell(c.Modifications[i].ReplacementName)
	}
	return c, nil
}

func (k *KeywordClassifier) classify(text string) *Classification {
	lower := strings.ToLower(text)

	switch {
	case oneOf(lower, confirmWords):
		return &Classification{Intent: IntentConfirm}
	case oneOf(lower, cancelWords):
		return &Classification{Intent: IntentCancel}
	case oneOf(lower, cartWords):
		return &Classification{Intent: IntentShowCart}
	}

	if rest, ok := cutPrefix(text, menuPrefixes); ok {
		return &Classification{Intent: IntentGetProduct, ProductName: rest}
	}
	if rest, ok := cutPrefix(text, addressPrefixes); ok && rest != "" {
		return &Classification{Intent: IntentEditAddress, Address: rest}
	}
	if rest, ok := cutPrefix(text, orderPrefixes); ok {
		return classifyOrder(rest)
	}
	if mods := parseModifications(text); len(mods) > 0 {
		return &Classification{Intent: IntentEditItems, Modifications: mods}
	}
	return &Classification{Intent: IntentNotUnderstood}
}

func classifyOrder(rest string) *Classification {
	c := &Classification{Intent: IntentPlaceOrder}
	for _, sep := range []string{" to ", " ส่งที่ "} {
		if i := strings.LastIndex(strings.ToLower(rest), sep); i >= 0 {
			c.Address = strings.TrimSpace(rest[i+len(sep):])
			rest = rest[:i]
			break
		}
	}
	for _, part := range strings.Split(rest, ",") {
		if item, ok := parseItem(part); ok {
			c.Items = append(c.Items, item)
		}
	}
	if len(c.Items) == 0 {
		c.Intent = IntentNotUnderstood
	}
	return c
}

func parseModifications(text string) []models.Modification {
	var mods []models.Modification
	for _, clause := range strings.Split(text, ";") {
		clause = strings.TrimSpace(clause)
		if rest, ok := cutPrefix(clause, addPrefixes); ok {
			if item, ok := parseItem(rest); ok {
				mods = append(mods, models.Modification{
					Action:        models.ModificationAdd,
					Name:          item.Name,
					Quantity:      item.Quantity,
					Customization: item.Customization,
				})
			}
			continue
		}
		if rest, ok := cutPrefix(clause, removePrefixes); ok && rest != "" {
			mods = append(mods, models.Modification{Action: models.ModificationRemove, Name: rest})
			continue
		}
		if rest, ok := cutPrefix(clause, replacePrefixes); ok {
			if mod, ok := parseReplace(rest); ok {
				mods = append(mods, mod)
			}
		}
	}
	return mods
}

func parseReplace(rest string) (models.Modification, bool) {
	for _, sep := range []string{" with ", " เป็น "} {
		i := strings.Index(strings.ToLower(rest), sep)
		if i < 0 {
			continue
		}
		target := strings.TrimSpace(rest[:i])
		repl, ok := parseItem(rest[i+len(sep):])
		if target == "" || !ok {
			return models.Modification{}, false
		}
		return models.Modification{
			Action:              models.ModificationReplace,
			Name:                target,
			ReplacementName:     repl.Name,
			ReplacementQuantity: repl.Quantity,
			Customization:       repl.Customization,
		}, true
	}
	return models.Modification{}, false
}

// parseItem reads "[qty] name [xqty] [(customization)]"
func parseItem(s string) (models.ItemRequest, bool) {
	s = strings.TrimSpace(s)
	item := models.ItemRequest{Quantity: 1}

	if m := custom.FindStringSubmatch(s); m != nil {
		s, item.Customization = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if m := leadingQty.FindStringSubmatch(s); m != nil {
		item.Quantity, _ = strconv.Atoi(m[1])
		s = m[2]
	} else if m := trailingQty.FindStringSubmatch(s); m != nil {
		s = m[1]
		item.Quantity, _ = strconv.Atoi(m[2])
	}

	item.Name = strings.TrimSpace(s)
	if item.Name == "" || item.Quantity <= 0 {
		return models.ItemRequest{}, false
	}
	return item, true
}

// nameIndex maps lower-cased names to their menu spelling
type nameIndex map[string]string

func knownNames(menu []string, cart *models.CurrentOrder) nameIndex {
	idx := make(nameIndex, len(menu))
	if cart != nil {
		for _, it := range cart.Items {
			idx[strings.ToLower(it.Name)] = it.Name
		}
	}
	for _, name := range menu {
		idx[strings.ToLower(name)] = name
	}
	return idx
}

func (idx nameIndex) spell(name string) string {
	if name == "" {
		return name
	}
	if known, ok := idx[strings.ToLower(strings.TrimSpace(name))]; ok {
		return known
	}
	return name
}

func oneOf(lower string, words []string) bool {
	for _, w := range words {
		if lower == w {
			return true
		}
	}
	return false
}

// cutPrefix matches a whole leading word, case-insensitively
func cutPrefix(text string, prefixes []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range prefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		rest := text[len(p):]
		if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, ":") && isASCII(p) {
			continue
		}
		return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":")), true
	}
	return "", false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
