package orders

import (
	"time"

	"order-hub/internal/repo"
)

// OrderView is the JSON shape of an order for the dashboard and events.
type OrderView struct {
	ID                string     `json:"id"`
	OrderNumber       string     `json:"orderNumber"`
	CustomerID        string     `json:"customerId"`
	Status            string     `json:"status"`
	DeliveryType      string     `json:"deliveryType"`
	DeliveryAddress   *string    `json:"deliveryAddress"`
	Notes             *string    `json:"notes"`
	PaymentMethod     string     `json:"paymentMethod"`
	Subtotal          Amount     `json:"subtotal"`
	DeliveryFee       Amount     `json:"deliveryFee"`
	Total             Amount     `json:"total"`
	AssignedTo        *string    `json:"assignedTo"`
	CancelReason      *string    `json:"cancelReason"`
	CompletedAt       *time.Time `json:"completedAt"`
	ProcessingSeconds *int64     `json:"processingSeconds"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	Items             []ItemView `json:"items,omitempty"`
}

// ItemView is one price snapshot line.
type ItemView struct {
	ID         string `json:"id"`
	MenuItemID string `json:"menuItemId"`
	Name       string `json:"name"`
	UnitPrice  Amount `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
	Subtotal   Amount `json:"subtotal"`
}

// Summary is the order block of the checkout response.
type Summary struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Total       Amount `json:"total"`
	Status      string `json:"status"`
}

// Notification reports how the customer was told about an order event.
// WaMeURL is always set and is the fallback when MessageSent is false.
type Notification struct {
	APIEnabled  bool    `json:"apiEnabled"`
	MessageSent bool    `json:"messageSent"`
	MessageID   *string `json:"messageId"`
	Error       *string `json:"error"`
	WaMeURL     string  `json:"waMeUrl"`
}

// CreateResult is the checkout response.
type CreateResult struct {
	Order    Summary      `json:"order"`
	WhatsApp Notification `json:"whatsapp"`
}

// ChangeResult is returned by staff transitions.
type ChangeResult struct {
	Order    OrderView     `json:"order"`
	WhatsApp *Notification `json:"whatsapp,omitempty"`
}

// ToView converts a stored order.
func ToView(o repo.Order) OrderView {
	v := OrderView{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		CustomerID:        o.CustomerID,
		Status:            o.Status,
		DeliveryType:      o.DeliveryType,
		DeliveryAddress:   o.DeliveryAddress,
		Notes:             o.Notes,
		PaymentMethod:     o.PaymentMethod,
		Subtotal:          Amount(o.Subtotal),
		DeliveryFee:       Amount(o.DeliveryFee),
		Total:             Amount(o.Total),
		AssignedTo:        o.AssignedTo,
		CancelReason:      o.CancelReason,
		CompletedAt:       o.CompletedAt,
		ProcessingSeconds: o.ProcessingSeconds,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for _, item := range o.Items {
		v.Items = append(v.Items, ItemView{
			ID:         item.ID,
			MenuItemID: item.MenuItemID,
			Name:       item.Name,
			UnitPrice:  Amount(item.UnitPrice),
			Quantity:   item.Quantity,
			Subtotal:   Amount(item.Subtotal),
		})
	}
	return v
}
