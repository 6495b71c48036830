package product

import (
	"io"
	"time"

	"github.com/gofrs/uuid"
)

type Product struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Price       float64   `json:"price" db:"price"`
	Description string    `json:"description" db:"description"`
	Image       string    `json:"image" db:"image"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Input carries the catalog fields of a new product.
type Input struct {
	Name        string
	Price       float64
	Description string
}

// UpdateInput carries the fields present in an update request; nil fields are
// left untouched.
type UpdateInput struct {
	Name        *string
	Price       *float64
	Description *string
}

// Image is an uploaded product image as received from the client.
type Image struct {
	Filename string
	Content  io.Reader
}
