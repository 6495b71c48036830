package order

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/storefront/internal/product"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "Pending"
	StatusProcessing OrderStatus = "Processing"
	StatusShipped    OrderStatus = "Shipped"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCancelled  OrderStatus = "Cancelled"
)

func (os OrderStatus) String() string {
	return string(os)
}

// LineItem is a cart entry. Name, Image and Price are captured when the order
// is placed and never change afterwards; ProductID is cleared if the product
// is removed from the catalog.
type LineItem struct {
	ID        uuid.UUID        `json:"-"`
	ProductID uuid.NullUUID    `json:"product"`
	Name      string           `json:"name"`
	Image     string           `json:"image"`
	Price     float64          `json:"price"`
	Quantity  int              `json:"quantity"`
	Product   *product.Product `json:"productDetails,omitempty"`
}

type Order struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Phone      string      `json:"phone"`
	Email      string      `json:"email"`
	Street     string      `json:"street"`
	City       string      `json:"city"`
	Cart       []LineItem  `json:"cart"`
	TotalPrice float64     `json:"totalPrice"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// DispatchReport describes what a notification attempt did on each channel.
// It is logged by the caller and never turned into a request failure.
type DispatchReport struct {
	Delivered []string
	Skipped   []string
	Failures  []error
}

func (r *DispatchReport) Deliver(channel string) {
	r.Delivered = append(r.Delivered, channel)
}

func (r *DispatchReport) Skip(channel string) {
	r.Skipped = append(r.Skipped, channel)
}

func (r *DispatchReport) Fail(err error) {
	r.Failures = append(r.Failures, err)
}

// Err joins all failures, or returns nil when every channel succeeded or was skipped.
func (r DispatchReport) Err() error {
	return errors.Join(r.Failures...)
}
