package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

var (
	ErrOrderNotFound  = apperr.NotFound("Order not found")
	ErrUnknownProduct = apperr.Validation("Cart references an unknown product")
)

type Repository interface {
	Create(ctx context.Context, order *Order) error
	List(ctx context.Context) ([]Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// UpdateStatus sets the status in a single statement and returns the
	// order as stored afterwards.
	UpdateStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, name, phone, email, street, city, total_price, status, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, order *Order) (err error) {
	if order.ID == uuid.Nil {
		id, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		order.ID = id
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id", order.ID).Msg("Panic recovered during order insert, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", order.ID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			log.Warn().Err(err).Stringer("order_id", order.ID).Msg("Transaction for order insert failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", order.ID).Msg("Failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Stringer("order_id", order.ID).Msg("Failed to commit transaction")
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		order.ID,
		order.Name,
		order.Phone,
		order.Email,
		order.Street,
		order.City,
		order.TotalPrice,
		string(order.Status),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	for i := range order.Cart {
		item := &order.Cart[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			err = fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			return err
		}
		item.ID = itemID

		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, position, name, image, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			item.ID,
			order.ID,
			item.ProductID,
			i,
			item.Name,
			item.Image,
			item.Price,
			item.Quantity,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				log.Warn().Stringer("order_id", order.ID).Str("product_id", item.ProductID.UUID.String()).Msg("repository: cart item references a missing product")
				err = ErrUnknownProduct
				return err
			}
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", order.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) List(ctx context.Context) ([]Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		ordersMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	if err := r.attachItems(ctx, orderIDs, ordersMap); err != nil {
		return nil, err
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	if err := r.attachItems(ctx, []uuid.UUID{id}, map[uuid.UUID]*Order{id: o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error) {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + orderColumns

	o, err := scanOrder(r.db.QueryRow(ctx, query, string(status), time.Now().UTC(), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn().Stringer("order_id", id).Stringer("new_status", status).Msg("repository: order not found for status update")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", status).Msg("repository: failed to update order status")
		return nil, fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}

	if err := r.attachItems(ctx, []uuid.UUID{id}, map[uuid.UUID]*Order{id: o}); err != nil {
		return nil, err
	}
	return o, nil
}

// attachItems loads the cart of every order in ids, preserving cart order.
func (r *postgresRepository) attachItems(ctx context.Context, ids []uuid.UUID, orders map[uuid.UUID]*Order) error {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, name, image, price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    LineItem
			orderID uuid.UUID
		)
		if err := rows.Scan(&item.ID, &orderID, &item.ProductID, &item.Name, &item.Image, &item.Price, &item.Quantity); err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := orders[orderID]; ok {
			o.Cart = append(o.Cart, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	o := Order{Cart: make([]LineItem, 0)}
	var status string
	err := row.Scan(
		&o.ID,
		&o.Name,
		&o.Phone,
		&o.Email,
		&o.Street,
		&o.City,
		&o.TotalPrice,
		&status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	return &o, nil
}
