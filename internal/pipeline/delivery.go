package pipeline

import (
	"strings"

	"orderflow/internal/domain"
)

var addressFields = []string{"address", "delivery_address", "shipping_address", "warehouse"}

// DeliveryResolver picks the delivery kind from the order's address text:
// any configured keyword selects the terminal (locker) branch.
type DeliveryResolver struct {
	Keywords []string
}

func (r DeliveryResolver) Resolve(o domain.Order) domain.DeliveryKind {
	var text strings.Builder
	for _, f := range addressFields {
		text.WriteString(strings.ToLower(o.Field(f)))
		text.WriteByte(' ')
	}
	haystack := text.String()
	for _, kw := range r.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(haystack, kw) {
			return domain.DeliveryTerminal
		}
	}
	return domain.DeliveryBranch
}
