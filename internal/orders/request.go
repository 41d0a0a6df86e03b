package orders

import (
	"fmt"
	"strings"

	"order-hub/internal/apperr"
	"order-hub/internal/registry"
)

// Delivery types.
const (
	DeliveryTypeDelivery = "DELIVERY"
	DeliveryTypePickup   = "PICKUP"
	DeliveryTypeDineIn   = "DINE_IN"
)

var deliveryTypes = map[string]bool{
	DeliveryTypeDelivery: true,
	DeliveryTypePickup:   true,
	DeliveryTypeDineIn:   true,
}

var paymentMethods = map[string]bool{
	"CASH":     true,
	"CARD":     true,
	"TRANSFER": true,
}

const maxQuantity = 999

// ItemRequest is one requested line.
type ItemRequest struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
	UnitPrice  Amount `json:"unitPrice"`
}

// CreateOrderRequest is the public checkout body.
type CreateOrderRequest struct {
	Items           []ItemRequest `json:"items"`
	CustomerName    string        `json:"customerName"`
	CustomerPhone   string        `json:"customerPhone"`
	CustomerEmail   *string       `json:"customerEmail,omitempty"`
	DeliveryType    string        `json:"deliveryType"`
	DeliveryAddress *string       `json:"deliveryAddress,omitempty"`
	Notes           *string       `json:"notes,omitempty"`
	PaymentMethod   string        `json:"paymentMethod"`
}

// Normalize trims and upper-cases the enumerated fields in place.
func (r *CreateOrderRequest) Normalize() {
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.CustomerPhone = registry.NormalizePhone(r.CustomerPhone)
	r.DeliveryType = strings.ToUpper(strings.TrimSpace(r.DeliveryType))
	r.PaymentMethod = strings.ToUpper(strings.TrimSpace(r.PaymentMethod))
	for i := range r.Items {
		r.Items[i].MenuItemID = strings.TrimSpace(r.Items[i].MenuItemID)
	}
	r.DeliveryAddress = blankToNil(r.DeliveryAddress)
	r.Notes = blankToNil(r.Notes)
	r.CustomerEmail = blankToNil(r.CustomerEmail)
}

// Validate checks the request shape. It runs before any lookup so a rejected
// request never touches the store.
func (r *CreateOrderRequest) Validate() error {
	verr := &apperr.ValidationError{}
	if len(r.Items) == 0 {
		verr.Add("items", "at least one item is required")
	}
	for i, item := range r.Items {
		field := fmt.Sprintf("items[%d]", i)
		if item.MenuItemID == "" {
			verr.Add(field+".menuItemId", "is required")
		}
		if item.Quantity <= 0 || item.Quantity > maxQuantity {
			verr.Add(field+".quantity", "must be between 1 and %d", maxQuantity)
		}
		if item.UnitPrice <= 0 {
			verr.Add(field+".unitPrice", "must be positive")
		}
	}
	if r.CustomerName == "" {
		verr.Add("customerName", "is required")
	}
	if r.CustomerPhone == "" {
		verr.Add("customerPhone", "is required")
	}
	if !deliveryTypes[r.DeliveryType] {
		verr.Add("deliveryType", "must be one of DELIVERY, PICKUP, DINE_IN")
	} else if r.DeliveryType == DeliveryTypeDelivery && r.DeliveryAddress == nil {
		verr.Add("deliveryAddress", "is required for delivery")
	}
	if !paymentMethods[r.PaymentMethod] {
		verr.Add("paymentMethod", "must be one of CASH, CARD, TRANSFER")
	}
	return verr.OrNil()
}

// DeliveryFee returns the fee for deliveryType given the configured fee for DELIVERY.
func DeliveryFee(deliveryType string, fee int64) int64 {
	if deliveryType == DeliveryTypeDelivery {
		return fee
	}
	return 0
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
