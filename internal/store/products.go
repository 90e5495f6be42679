package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, description, image, price, stock, is_active, created_at, updated_at, version`

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Image,
		&product.Price,
		&product.Stock,
		&product.IsActive,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

type ProductInput struct {
	Name        string
	Description string
	Image       string
	Price       decimal.Decimal
	Stock       int
	IsActive    bool
}

func CreateProduct(ctx context.Context, q Querier, in ProductInput) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (name, description, image, price, stock, is_active, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	row := q.QueryRowContext(ctx, query, in.Name, in.Description, in.Image, in.Price, in.Stock, in.IsActive)
	if err := scanProduct(row, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q Querier, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := scanProduct(q.QueryRowContext(ctx, query, id), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// UpdateProduct replaces the editable fields if version still matches the
// stored row.
func UpdateProduct(ctx context.Context, q Querier, id int64, version int, in ProductInput) (*models.Product, error) {
	product := &models.Product{}

	query := `
		UPDATE products
		SET name = $1, description = $2, image = $3, price = $4, stock = $5, is_active = $6,
		    version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8
		RETURNING ` + productColumns

	row := q.QueryRowContext(ctx, query, in.Name, in.Description, in.Image, in.Price, in.Stock, in.IsActive, id, version)
	if err := scanProduct(row, product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := GetProduct(ctx, q, id); getErr != nil {
				return nil, getErr
			}
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

func ListProducts(ctx context.Context, db *sql.DB, activeOnly bool, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE is_active OR NOT $1`,
		activeOnly).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE is_active OR NOT $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, activeOnly, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
