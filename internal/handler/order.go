package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/idempotency"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

const maxOrderBodyBytes = 1 << 20

type CartItemRequest struct {
	Product  string  `json:"product" validate:"omitempty,uuid"`
	Name     string  `json:"name" validate:"max=200"`
	Image    string  `json:"image" validate:"max=500"`
	Img      string  `json:"img" validate:"max=500"`
	Price    float64 `json:"price" validate:"gte=0"`
	Quantity int     `json:"quantity" validate:"gte=0"`
}

// CreateOrderRequest only checks shapes; the email rule lives in the service.
type CreateOrderRequest struct {
	Name       string            `json:"name" validate:"max=200"`
	Phone      string            `json:"phone" validate:"max=50"`
	Email      string            `json:"email" validate:"max=254"`
	Street     string            `json:"street" validate:"max=300"`
	City       string            `json:"city" validate:"max=100"`
	Cart       []CartItemRequest `json:"cart" validate:"dive"`
	TotalPrice float64           `json:"totalPrice" validate:"gte=0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type OrderHandler struct {
	service     order.Service
	idempotency idempotency.Store
	validate    *validator.Validate
}

// NewOrderHandler wires the order routes. store may be nil, which disables
// Idempotency-Key handling.
func NewOrderHandler(service order.Service, store idempotency.Store) *OrderHandler {
	return &OrderHandler{
		service:     service,
		idempotency: store,
		validate:    newValidator(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Put("/orders/{id}/status", h.handleUpdateOrderStatus)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxOrderBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode order request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondWithValidation(w, err)
		return
	}

	key := ""
	if h.idempotency != nil {
		if requested := idempotency.Key(r); requested != "" {
			var handled bool
			if key, handled = h.reserve(w, r, requested); handled {
				return
			}
		}
	}

	placed, err := h.service.PlaceOrder(r.Context(), toDomainOrder(requestPayload))
	if err != nil {
		if key != "" {
			if relErr := h.idempotency.Release(r.Context(), key); relErr != nil {
				log.Warn().Err(relErr).Msg("Failed to release idempotency key")
			}
		}
		log.Error().Err(err).Msg("Failed to place order via service")
		respondWithServiceError(w, err, "Failed to place order")
		return
	}

	if key != "" {
		if err := h.idempotency.Complete(r.Context(), key, placed.ID.String()); err != nil {
			log.Warn().Err(err).Stringer("order_id", placed.ID).Msg("Failed to remember idempotency key")
		}
	}

	respondWithJSON(w, http.StatusCreated, placed)
}

// reserve claims key before the order is placed. It returns the key to
// complete afterwards, or "" when the store is unavailable and the order is
// placed without one. handled reports that the response is already written:
// the key belongs to an order still being placed (409) or to a placed order,
// which is replayed with 200.
func (h *OrderHandler) reserve(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	reserved, orderID, err := h.idempotency.Reserve(r.Context(), key)
	if err != nil {
		log.Warn().Err(err).Msg("Idempotency reservation failed, placing order anyway")
		return "", false
	}
	if reserved {
		return key, false
	}

	if orderID == "" {
		respondWithError(w, http.StatusConflict, "An order with this Idempotency-Key is already being placed")
		return "", true
	}

	existing, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("Order behind idempotency key is unavailable")
		respondWithServiceError(w, err, "Server error")
		return "", true
	}
	log.Info().Str("order_id", orderID).Msg("Replaying order for repeated idempotency key")
	respondWithJSON(w, http.StatusOK, existing)
	return "", true
}

func toDomainOrder(req CreateOrderRequest) *order.Order {
	cart := make([]order.LineItem, 0, len(req.Cart))
	for _, item := range req.Cart {
		li := order.LineItem{
			Name:     item.Name,
			Image:    item.Image,
			Price:    item.Price,
			Quantity: item.Quantity,
		}
		if li.Image == "" {
			li.Image = item.Img
		}
		if item.Product != "" {
			// Already checked by the uuid validator.
			li.ProductID = uuid.NullUUID{UUID: uuid.FromStringOrNil(item.Product), Valid: true}
		}
		cart = append(cart, li)
	}

	return &order.Order{
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		Street:     req.Street,
		City:       req.City,
		Cart:       cart,
		TotalPrice: req.TotalPrice,
	}
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithServiceError(w, err, "Error fetching orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	idParam := strings.TrimSpace(chi.URLParam(r, "id"))

	found, err := h.service.GetOrder(r.Context(), idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to get order by id via service")
		respondWithServiceError(w, err, "Server error")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")

	var requestPayload UpdateStatusRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to decode status request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), idParam, order.OrderStatus(requestPayload.Status))
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to update order status via service")
		respondWithServiceError(w, err, "Error updating order status")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}
