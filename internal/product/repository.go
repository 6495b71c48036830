package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

var ErrProductNotFound = apperr.NotFound("product not found")

type Repository interface {
	Create(ctx context.Context, p *Product) error
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	Update(ctx context.Context, p *Product) error
	// Delete removes the product and returns the image it referenced.
	Delete(ctx context.Context, id uuid.UUID) (string, error)
}

type sqlxRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &sqlxRepository{db: db}
}

const productColumns = `id, name, price, description, image, created_at, updated_at`

func (r *sqlxRepository) Create(ctx context.Context, p *Product) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate product ID: %w", err)
		}
		p.ID = id
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES (:id, :name, :price, :description, :image, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("repository: failed to insert product: %w", err)
	}
	return nil
}

func (r *sqlxRepository) List(ctx context.Context) ([]Product, error) {
	products := make([]Product, 0)
	query := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &products, query); err != nil {
		return nil, fmt.Errorf("repository: failed to select products: %w", err)
	}
	return products, nil
}

func (r *sqlxRepository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	var p Product
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product by id %s: %w", id, err)
	}
	return &p, nil
}

func (r *sqlxRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	products := make([]Product, 0, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to build products query: %w", err)
	}

	if err := r.db.SelectContext(ctx, &products, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("repository: failed to select products by ids: %w", err)
	}
	return products, nil
}

func (r *sqlxRepository) Update(ctx context.Context, p *Product) error {
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE products
		SET name = :name, price = :price, description = :description, image = :image, updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return fmt.Errorf("repository: failed to update product %s: %w", p.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read affected rows for product %s: %w", p.ID, err)
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *sqlxRepository) Delete(ctx context.Context, id uuid.UUID) (string, error) {
	var image string
	if err := r.db.GetContext(ctx, &image, `DELETE FROM products WHERE id = $1 RETURNING image`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrProductNotFound
		}
		return "", fmt.Errorf("repository: failed to delete product %s: %w", id, err)
	}
	return image, nil
}
