package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-tracker/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// The legacy order_status column is only read when status is empty.
const orderColumns = `
	id::text, order_number, customer_name, customer_email, customer_phone, customer_address,
	total_amount::text, COALESCE(payment_status, 'pending'),
	COALESCE(NULLIF(status, ''), NULLIF(order_status, ''), 'pending'),
	created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OrderRepository reads and writes the storefront's orders tables.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// FindByNumberAndEmail matches the order number exactly and the email
// case-insensitively. It returns nil, nil when no order matches.
func (r *OrderRepository) FindByNumberAndEmail(ctx context.Context, orderNumber, email string) (*models.Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_number = $1 AND lower(customer_email) = lower($2)
		LIMIT 1`,
		strings.TrimSpace(orderNumber), strings.TrimSpace(email),
	)
	return r.withItems(ctx, r.pool, row)
}

// FindByID returns nil, nil for unknown or malformed ids.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1::uuid`, id)
	return r.withItems(ctx, r.pool, row)
}

// SetStatus moves an order from one status to another, keeping the legacy
// column in step. updated_at always moves forward so clients see the change
// as newer. It returns nil, nil when the order is not in status from.
func (r *OrderRepository) SetStatus(ctx context.Context, id string, from, to models.Status) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $1, order_status = $1,
			updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $2::uuid AND COALESCE(NULLIF(status, ''), NULLIF(order_status, ''), 'pending') = $3
		RETURNING `+orderColumns,
		string(to), id, string(from),
	)
	o, err := r.withItems(ctx, tx, row)
	if err != nil || o == nil {
		return o, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) InsertNotification(ctx context.Context, n models.OrderNotification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO order_notifications (order_id, order_number, old_status, new_status, message, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
		n.OrderID, n.OrderNumber, string(n.OldStatus), string(n.NewStatus), n.Message, n.CreatedAt,
	)
	return err
}

func (r *OrderRepository) withItems(ctx context.Context, q querier, row pgx.Row) (*models.Order, error) {
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Items, err = listItems(ctx, q, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load items of order %s: %w", o.OrderNumber, err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o       models.Order
		total   string
		payment string
		status  string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone, &o.CustomerAddress,
		&total, &payment, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("total_amount %q: %w", total, err)
	}
	o.PaymentStatus = models.PaymentStatus(payment)
	o.Status = models.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func listItems(ctx context.Context, q querier, orderID string) ([]models.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_name, quantity,
			COALESCE(unit_price, product_price, 0)::text,
			subtotal::text, special_requests, toppings
		FROM order_items
		WHERE order_id = $1::uuid
		ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var (
			it       models.OrderItem
			price    string
			subtotal *string
			toppings []byte
		)
		if err := rows.Scan(&it.ProductName, &it.Quantity, &price, &subtotal, &it.SpecialRequests, &toppings); err != nil {
			return nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("item price %q: %w", price, err)
		}
		if subtotal != nil {
			if it.Subtotal, err = decimal.NewFromString(*subtotal); err != nil {
				return nil, fmt.Errorf("item subtotal %q: %w", *subtotal, err)
			}
		} else {
			it.Subtotal = it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		}
		it.Toppings = models.ParseToppings(json.RawMessage(toppings))
		items = append(items, it)
	}
	return items, rows.Err()
}

// InsertOrder writes a new order with its items. It backs the seed command
// and the integration tests; the storefront checkout owns real inserts.
func (r *OrderRepository) InsertOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := o.Status
	if status == "" {
		status = models.StatusPending
	}
	payment := o.PaymentStatus
	if payment == "" {
		payment = models.PaymentPending
	}
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO orders (
			order_number, customer_name, customer_email, customer_phone, customer_address,
			total_amount, payment_status, status, order_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $8, $9, $9)
		RETURNING `+orderColumns,
		o.OrderNumber, o.CustomerName, o.CustomerEmail, o.CustomerPhone, o.CustomerAddress,
		o.TotalAmount.String(), string(payment), string(status), created,
	)
	saved, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order %s: %w", o.OrderNumber, err)
	}
	for _, it := range o.Items {
		toppings, err := json.Marshal(it.Toppings)
		if err != nil {
			return nil, fmt.Errorf("encode toppings: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_name, quantity, unit_price, subtotal, special_requests, toppings)
			VALUES ($1::uuid, $2, $3, $4::numeric, $5::numeric, $6, $7::jsonb)`,
			saved.ID, it.ProductName, it.Quantity, it.Price.String(), it.Subtotal.String(), it.SpecialRequests, string(toppings),
		)
		if err != nil {
			return nil, fmt.Errorf("insert item %s: %w", it.ProductName, err)
		}
	}
	saved.Items, err = listItems(ctx, tx, saved.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}
