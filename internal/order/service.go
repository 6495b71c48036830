package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/product"
)

var (
	ErrEmailRequired   = apperr.Validation("Email is required")
	ErrOrderIDRequired = apperr.Validation("Order ID is required")
	ErrStatusRequired  = apperr.Validation("Status is required")
	ErrInvalidQuantity = apperr.Validation("Cart item quantity cannot be negative")
	ErrInvalidPrice    = apperr.Validation("Prices cannot be negative")
)

const defaultNotifyTimeout = 30 * time.Second

// ProductLookup resolves cart product references to catalog entries.
type ProductLookup interface {
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]product.Product, error)
}

// Notifier is the post-commit hook run after an order is placed or its status
// changes. It reports what happened instead of failing.
type Notifier interface {
	OrderPlaced(ctx context.Context, order *Order) DispatchReport
	StatusChanged(ctx context.Context, order *Order) DispatchReport
}

type Service interface {
	PlaceOrder(ctx context.Context, orderInput *Order) (*Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status OrderStatus) (*Order, error)
	// Wait blocks until every scheduled notification has finished.
	Wait()
}

type Option func(*service)

// WithNotifyTimeout bounds each post-commit notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

type service struct {
	orderRepo     Repository
	products      ProductLookup
	notifier      Notifier
	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

func NewService(orderRepo Repository, products ProductLookup, notifier Notifier, opts ...Option) Service {
	s := &service{
		orderRepo:     orderRepo,
		products:      products,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) PlaceOrder(ctx context.Context, orderInput *Order) (*Order, error) {
	orderInput.Email = strings.TrimSpace(orderInput.Email)
	if orderInput.Email == "" {
		log.Warn().Msg("service: attempt to place order without email")
		return nil, ErrEmailRequired
	}
	if orderInput.TotalPrice < 0 {
		return nil, ErrInvalidPrice
	}

	for i := range orderInput.Cart {
		item := &orderInput.Cart[i]
		// Carts may omit quantity; a missing one means a single unit.
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		if item.Quantity < 0 {
			return nil, ErrInvalidQuantity
		}
		if item.Price < 0 {
			return nil, ErrInvalidPrice
		}
		item.ID = uuid.Nil
		item.Product = nil
	}
	if orderInput.Cart == nil {
		orderInput.Cart = make([]LineItem, 0)
	}

	orderInput.ID = uuid.Nil
	orderInput.Status = StatusPending

	if err := s.orderRepo.Create(ctx, orderInput); err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return nil, err
		}
		log.Error().Err(err).Str("email", orderInput.Email).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w: %w", apperr.ErrPersistence, err)
	}

	log.Info().Stringer("order_id", orderInput.ID).Str("email", orderInput.Email).Int("items", len(orderInput.Cart)).Msg("service: order placed")

	placed := *orderInput
	placed.Cart = append([]LineItem(nil), orderInput.Cart...)
	s.dispatch(ctx, "order_placed", placed.ID, func(ctx context.Context) DispatchReport {
		return s.notifier.OrderPlaced(ctx, &placed)
	})

	return orderInput, nil
}

func (s *service) ListOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.orderRepo.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders in repository")
		return nil, fmt.Errorf("service: failed to list orders: %w: %w", apperr.ErrPersistence, err)
	}
	return orders, nil
}

func (s *service) GetOrder(ctx context.Context, id string) (*Order, error) {
	orderID, err := parseOrderID(id)
	if err != nil {
		return nil, err
	}

	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", orderID).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w: %w", apperr.ErrPersistence, err)
	}

	s.resolveProducts(ctx, o)
	return o, nil
}

// UpdateOrderStatus accepts any non-blank status. Concurrent updates of the
// same order resolve to whichever statement the store applies last.
func (s *service) UpdateOrderStatus(ctx context.Context, id string, status OrderStatus) (*Order, error) {
	orderID, err := parseOrderID(id)
	if err != nil {
		return nil, err
	}

	status = OrderStatus(strings.TrimSpace(string(status)))
	if status == "" {
		return nil, ErrStatusRequired
	}

	updated, err := s.orderRepo.UpdateStatus(ctx, orderID, status)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", orderID).Stringer("new_status", status).Msg("service: order not found, cannot update status")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", status).Msg("service: failed to update order status in repository")
		return nil, fmt.Errorf("service: failed to update order status: %w: %w", apperr.ErrPersistence, err)
	}

	log.Info().Stringer("order_id", orderID).Stringer("new_status", status).Msg("service: order status updated")

	changed := *updated
	s.dispatch(ctx, "status_changed", changed.ID, func(ctx context.Context) DispatchReport {
		return s.notifier.StatusChanged(ctx, &changed)
	})

	return updated, nil
}

func (s *service) Wait() {
	s.pending.Wait()
}

// dispatch runs hook on its own goroutine, detached from the caller's
// cancellation and bounded by the notify timeout. The report is only logged.
func (s *service) dispatch(ctx context.Context, hook string, orderID uuid.UUID, run func(context.Context) DispatchReport) {
	if s.notifier == nil {
		return
	}

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic_value", p).Str("hook", hook).Stringer("order_id", orderID).Msg("service: notification hook panicked")
			}
		}()

		report := run(hookCtx)
		event := log.Info()
		if err := report.Err(); err != nil {
			event = log.Warn().Err(err)
		}
		event.Str("hook", hook).
			Stringer("order_id", orderID).
			Strs("delivered", report.Delivered).
			Strs("skipped", report.Skipped).
			Msg("service: notification dispatched")
	}()
}

// resolveProducts attaches catalog entries to cart items that still reference
// an existing product. Lookup failures leave the order unresolved.
func (s *service) resolveProducts(ctx context.Context, o *Order) {
	if s.products == nil {
		return
	}

	ids := make([]uuid.UUID, 0, len(o.Cart))
	seen := make(map[uuid.UUID]struct{}, len(o.Cart))
	for _, item := range o.Cart {
		if !item.ProductID.Valid {
			continue
		}
		if _, ok := seen[item.ProductID.UUID]; ok {
			continue
		}
		seen[item.ProductID.UUID] = struct{}{}
		ids = append(ids, item.ProductID.UUID)
	}
	if len(ids) == 0 {
		return
	}

	products, err := s.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("service: failed to resolve cart products")
		return
	}

	byID := make(map[uuid.UUID]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	for i := range o.Cart {
		if p, ok := byID[o.Cart[i].ProductID.UUID]; ok && o.Cart[i].ProductID.Valid {
			o.Cart[i].Product = p
		}
	}
}

// parseOrderID treats a malformed id like an unknown one: it can never match.
func parseOrderID(id string) (uuid.UUID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.Nil, ErrOrderIDRequired
	}
	orderID, err := uuid.FromString(id)
	if err != nil {
		log.Warn().Err(err).Str("order_id", id).Msg("service: malformed order id")
		return uuid.Nil, ErrOrderNotFound
	}
	return orderID, nil
}
