package orders

import (
	"fmt"
	"strings"

	"order-hub/internal/apperr"

	"github.com/juju/errors"
)

// Order statuses in lifecycle order.
const (
	StatusPending        = "PENDING"
	StatusConfirmed      = "CONFIRMED"
	StatusPreparing      = "PREPARING"
	StatusReady          = "READY"
	StatusOutForDelivery = "OUT_FOR_DELIVERY"
	StatusDelivered      = "DELIVERED"
	StatusCompleted      = "COMPLETED"
	StatusCancelled      = "CANCELLED"
)

var lifecycle = []string{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCompleted,
}

func position(status string) int {
	for i, s := range lifecycle {
		if s == status {
			return i
		}
	}
	return -1
}

// ParseStatus normalises s and rejects unknown statuses.
func ParseStatus(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == StatusCancelled || position(s) >= 0 {
		return s, nil
	}
	verr := &apperr.ValidationError{}
	verr.Add("status", "unknown status %q", s)
	return "", verr
}

// Terminal reports whether no transition leaves status.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// CheckTransition allows forward moves along the lifecycle, skipping steps if
// needed, and cancellation from any non-terminal status.
func CheckTransition(from, to string) error {
	if Terminal(from) {
		return apperr.Conflictf("order is %s", from)
	}
	if from == to {
		return apperr.Conflictf("order is already %s", to)
	}
	if to == StatusCancelled {
		return nil
	}
	pf, pt := position(from), position(to)
	if pf < 0 || pt < 0 {
		return errors.NotValidf("transition %s -> %s", from, to)
	}
	if pt < pf {
		return apperr.Conflictf("order cannot move back from %s to %s", from, to)
	}
	return nil
}

// stampsCompletion reports whether entering to records the completion time.
func stampsCompletion(to string, alreadyCompleted bool) bool {
	return to == StatusDelivered || (to == StatusCompleted && !alreadyCompleted)
}

var statusTemplates = map[string]string{
	StatusPending:        "Hi %s, we received your order %s. Total: %s. We will confirm it shortly.",
	StatusConfirmed:      "Hi %s, your order %s has been confirmed.",
	StatusPreparing:      "Hi %s, the kitchen is preparing your order %s.",
	StatusReady:          "Hi %s, your order %s is ready.",
	StatusOutForDelivery: "Hi %s, your order %s is on its way.",
	StatusDelivered:      "Hi %s, your order %s has been delivered. Enjoy!",
	StatusCompleted:      "Hi %s, thank you! Your order %s is complete.",
	StatusCancelled:      "Hi %s, your order %s has been cancelled.",
}

// StatusMessage renders the customer-facing text for status. It is empty for
// statuses that do not notify.
func StatusMessage(status, customerName, orderNumber string, total Amount) string {
	tpl, ok := statusTemplates[status]
	if !ok {
		return ""
	}
	if customerName == "" {
		customerName = "there"
	}
	if status == StatusPending {
		return fmt.Sprintf(tpl, customerName, orderNumber, total)
	}
	return fmt.Sprintf(tpl, customerName, orderNumber)
}
