// Package orders prices and creates orders and drives them through their
// status lifecycle.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"order-hub/internal/apperr"
	"order-hub/internal/metrics"
	"order-hub/internal/notify"
	"order-hub/internal/realtime"
	"order-hub/internal/repo"
	"order-hub/internal/wa"

	"github.com/juju/errors"
)

// Store is the persistence the order service needs.
type Store interface {
	GetMenuItems(ctx context.Context, tenantID string, ids []string) ([]repo.MenuItem, error)
	GetCustomer(ctx context.Context, tenantID, id string) (*repo.Customer, error)
	CreateOrder(ctx context.Context, order repo.NewOrder) (*repo.Order, *repo.Customer, error)
	GetOrder(ctx context.Context, tenantID, id string) (*repo.Order, error)
	ListOrders(ctx context.Context, tenantID, status string, limit int) ([]repo.Order, error)
	UpdateOrderStatus(ctx context.Context, change repo.StatusChange) (*repo.Order, error)
	AssignOrder(ctx context.Context, tenantID, id, userID string) (*repo.Order, error)
}

// Tenants resolves tenants.
type Tenants interface {
	TenantBySlug(ctx context.Context, slug string) (*repo.Tenant, error)
	TenantByID(ctx context.Context, id string) (*repo.Tenant, error)
}

// Notifier delivers customer messages.
type Notifier interface {
	NotifyCustomer(ctx context.Context, kind string, tenant *repo.Tenant, customer *repo.Customer, text string) notify.Outcome
	APIEnabled(tenant *repo.Tenant) bool
}

// Config tunes pricing and numbering.
type Config struct {
	// DeliveryFee in minor units, charged for DELIVERY orders.
	DeliveryFee  int64
	NumberPrefix string
}

// Service implements order ingestion and the status lifecycle.
type Service struct {
	store       Store
	tenants     Tenants
	notifier    Notifier
	broadcaster *realtime.Broadcaster
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New builds the order service.
func New(store Store, tenants Tenants, notifier Notifier, broadcaster *realtime.Broadcaster, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "ORD"
	}
	return &Service{
		store:       store,
		tenants:     tenants,
		notifier:    notifier,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger.With("component", "orders"),
		metrics:     m,
		now:         time.Now,
	}
}

// CreateOrder validates and prices req against the menu of the tenant named
// by slug and stores it with its customer in one transaction. The new order
// is broadcast and the customer notified after commit; notification failure
// only shows up in the result.
func (s *Service) CreateOrder(ctx context.Context, slug string, req CreateOrderRequest) (*CreateResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenant, err := s.tenants.TenantBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	items, subtotal, err := s.price(ctx, tenant.ID, req.Items)
	if err != nil {
		return nil, err
	}
	fee := DeliveryFee(req.DeliveryType, s.cfg.DeliveryFee)
	name := req.CustomerName

	order, customer, err := s.store.CreateOrder(ctx, repo.NewOrder{
		TenantID:     tenant.ID,
		NumberPrefix: s.cfg.NumberPrefix,
		Customer: repo.CustomerProfile{
			TenantID:    tenant.ID,
			Phone:       req.CustomerPhone,
			DisplayName: &name,
			Email:       req.CustomerEmail,
		},
		Status:          StatusPending,
		DeliveryType:    req.DeliveryType,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		PaymentMethod:   req.PaymentMethod,
		Subtotal:        subtotal,
		DeliveryFee:     fee,
		Total:           subtotal + fee,
		Items:           items,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if s.metrics != nil {
		s.metrics.OrdersCreated.WithLabelValues(order.DeliveryType).Inc()
	}
	s.logger.Info("order created", "tenant_id", tenant.ID, "order_id", order.ID, "order_number", order.OrderNumber, "total", Amount(order.Total).String())

	s.broadcaster.Emit(realtime.TenantRoom(tenant.ID), realtime.EventNewOrder, ToView(*order))

	text := StatusMessage(StatusPending, customerName(customer), order.OrderNumber, Amount(order.Total))
	out := s.notifier.NotifyCustomer(ctx, "order_created", tenant, customer, text)

	return &CreateResult{
		Order: Summary{
			ID:          order.ID,
			OrderNumber: order.OrderNumber,
			Total:       Amount(order.Total),
			Status:      order.Status,
		},
		WhatsApp: s.notification(tenant, out, wa.DeepLink(tenant.Phone, OrderSummaryText(tenant, order))),
	}, nil
}

// price snapshots menu prices for lines. Items are looked up within tenantID
// only, so a foreign id is indistinguishable from an unknown one.
func (s *Service) price(ctx context.Context, tenantID string, lines []ItemRequest) ([]repo.OrderItem, int64, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.MenuItemID)
	}
	menu, err := s.store.GetMenuItems(ctx, tenantID, ids)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]repo.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}

	verr := &apperr.ValidationError{}
	items := make([]repo.OrderItem, 0, len(lines))
	var subtotal int64
	for i, line := range lines {
		m, ok := byID[line.MenuItemID]
		if !ok {
			return nil, 0, errors.NotFoundf("menu item %q", line.MenuItemID)
		}
		if !m.IsActive || !m.IsAvailable {
			verr.Add(fmt.Sprintf("items[%d].menuItemId", i), "%s is not available", m.Name)
			continue
		}
		lineTotal := m.Price * int64(line.Quantity)
		items = append(items, repo.OrderItem{
			MenuItemID: m.ID,
			Name:       m.Name,
			UnitPrice:  m.Price,
			Quantity:   line.Quantity,
			Subtotal:   lineTotal,
		})
		subtotal += lineTotal
	}
	if err := verr.OrNil(); err != nil {
		return nil, 0, err
	}
	return items, subtotal, nil
}

// SetStatus moves an order to status, then broadcasts and notifies the
// customer. The status change stands whatever the notification outcome.
func (s *Service) SetStatus(ctx context.Context, tenantID, orderID, status string) (*ChangeResult, error) {
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, tenantID, orderID, "")
	}

	current, err := s.store.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(current.Status, to); err != nil {
		return nil, err
	}

	change := repo.StatusChange{TenantID: tenantID, OrderID: orderID, From: current.Status, To: to}
	if stampsCompletion(to, current.CompletedAt != nil) {
		now := s.now().UTC()
		seconds := int64(now.Sub(current.CreatedAt).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		change.CompletedAt = &now
		change.ProcessingSeconds = &seconds
	}
	updated, err := s.store.UpdateOrderStatus(ctx, change)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OrderTransitions.WithLabelValues(to).Inc()
	}
	s.logger.Info("order status changed", "tenant_id", tenantID, "order_id", orderID, "from", current.Status, "to", to)

	view := ToView(*updated)
	payload := realtime.OrderStatusChanged{OrderID: orderID, OldStatus: current.Status, NewStatus: to, Order: view}
	s.broadcaster.Emit(realtime.TenantRoom(tenantID), realtime.EventOrderStatusChanged, payload)
	s.broadcaster.Emit(realtime.OrderRoom(orderID), realtime.EventOrderStatusChanged, payload)

	note := s.notifyStatus(ctx, updated)
	return &ChangeResult{Order: view, WhatsApp: note}, nil
}

// Cancel moves a non-terminal order to CANCELLED with reason.
func (s *Service) Cancel(ctx context.Context, tenantID, orderID, reason string) (*ChangeResult, error) {
	current, err := s.store.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(current.Status, StatusCancelled); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	change := repo.StatusChange{TenantID: tenantID, OrderID: orderID, From: current.Status, To: StatusCancelled}
	if reason != "" {
		change.CancelReason = &reason
	}
	updated, err := s.store.UpdateOrderStatus(ctx, change)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OrderTransitions.WithLabelValues(StatusCancelled).Inc()
	}
	s.logger.Info("order cancelled", "tenant_id", tenantID, "order_id", orderID, "from", current.Status, "reason", reason)

	payload := realtime.OrderCancelled{OrderID: orderID, Reason: reason}
	s.broadcaster.Emit(realtime.TenantRoom(tenantID), realtime.EventOrderCancelled, payload)
	s.broadcaster.Emit(realtime.OrderRoom(orderID), realtime.EventOrderCancelled, payload)

	note := s.notifyStatus(ctx, updated)
	return &ChangeResult{Order: ToView(*updated), WhatsApp: note}, nil
}

// Assign hands an order to a staff member.
func (s *Service) Assign(ctx context.Context, tenantID, orderID, assignee string) (*ChangeResult, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		verr := &apperr.ValidationError{}
		verr.Add("assignedTo", "is required")
		return nil, verr
	}
	updated, err := s.store.AssignOrder(ctx, tenantID, orderID, assignee)
	if err != nil {
		return nil, err
	}

	payload := realtime.OrderAssigned{OrderID: orderID, AssignedTo: assignee}
	s.broadcaster.Emit(realtime.TenantRoom(tenantID), realtime.EventOrderAssigned, payload)
	s.broadcaster.Emit(realtime.OrderRoom(orderID), realtime.EventOrderAssigned, payload)
	return &ChangeResult{Order: ToView(*updated)}, nil
}

// Get returns one order with its items.
func (s *Service) Get(ctx context.Context, tenantID, orderID string) (OrderView, error) {
	o, err := s.store.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return OrderView{}, err
	}
	return ToView(*o), nil
}

// List returns the tenant's orders, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, tenantID, status string, limit int) ([]OrderView, error) {
	if status != "" {
		var err error
		if status, err = ParseStatus(status); err != nil {
			return nil, err
		}
	}
	list, err := s.store.ListOrders(ctx, tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(list))
	for _, o := range list {
		views = append(views, ToView(o))
	}
	return views, nil
}

// notifyStatus tells the customer about the order's current status. Lookup
// failures are logged and reported as a failed notification.
func (s *Service) notifyStatus(ctx context.Context, order *repo.Order) *Notification {
	tenant, err := s.tenants.TenantByID(ctx, order.TenantID)
	if err != nil {
		s.logger.Error("load tenant for notification", "order_id", order.ID, "error", err)
		return nil
	}
	customer, err := s.store.GetCustomer(ctx, order.TenantID, order.CustomerID)
	if err != nil {
		s.logger.Error("load customer for notification", "order_id", order.ID, "error", err)
		return nil
	}
	text := StatusMessage(order.Status, customerName(customer), order.OrderNumber, Amount(order.Total))
	if text == "" {
		return nil
	}
	out := s.notifier.NotifyCustomer(ctx, "status_"+strings.ToLower(order.Status), tenant, customer, text)
	note := s.notification(tenant, out, wa.DeepLink(customer.Phone, text))
	return &note
}

func (s *Service) notification(tenant *repo.Tenant, out notify.Outcome, link string) Notification {
	n := Notification{
		APIEnabled:  s.notifier.APIEnabled(tenant),
		MessageSent: out.Delivered(),
		WaMeURL:     link,
	}
	if out.Delivered() {
		id := out.MessageID
		n.MessageID = &id
	} else if out.Reason != "" {
		reason := out.Reason
		n.Error = &reason
	}
	return n
}

// OrderSummaryText is the message a customer sends the restaurant through the
// fallback deep link.
func OrderSummaryText(tenant *repo.Tenant, order *repo.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, I just placed order %s:\n", tenant.Name, order.OrderNumber)
	for _, item := range order.Items {
		fmt.Fprintf(&b, "%dx %s (%s)\n", item.Quantity, item.Name, Amount(item.Subtotal))
	}
	if order.DeliveryFee > 0 {
		fmt.Fprintf(&b, "Delivery fee: %s\n", Amount(order.DeliveryFee))
	}
	fmt.Fprintf(&b, "Total: %s", Amount(order.Total))
	return b.String()
}

func customerName(c *repo.Customer) string {
	if c == nil || c.DisplayName == nil {
		return ""
	}
	return *c.DisplayName
}
