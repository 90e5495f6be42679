package store

import (
	"context"
	"fmt"

	"github.com/safar/cashback-store/internal/models"
	"github.com/shopspring/decimal"
)

func CreateNews(ctx context.Context, q Querier, title, content, thumbnail string) (*models.News, error) {
	news := &models.News{}

	err := q.QueryRowContext(ctx,
		`INSERT INTO news (title, content, thumbnail, date)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, title, content, thumbnail, date`,
		title, content, thumbnail).Scan(
		&news.ID,
		&news.Title,
		&news.Content,
		&news.Thumbnail,
		&news.Date,
	)
	if err != nil {
		return nil, fmt.Errorf("create news: %w", err)
	}

	return news, nil
}

func ListNews(ctx context.Context, q Querier) ([]models.News, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, title, content, thumbnail, date FROM news ORDER BY date DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer rows.Close()

	items := []models.News{}
	for rows.Next() {
		var news models.News
		if err := rows.Scan(&news.ID, &news.Title, &news.Content, &news.Thumbnail, &news.Date); err != nil {
			return nil, fmt.Errorf("scan news: %w", err)
		}
		items = append(items, news)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func CreateContactMessage(ctx context.Context, q Querier, name, email, message string) (*models.ContactMessage, error) {
	msg := &models.ContactMessage{}

	err := q.QueryRowContext(ctx,
		`INSERT INTO contact_messages (name, email, message, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, name, email, message, created_at`,
		name, email, message).Scan(
		&msg.ID,
		&msg.Name,
		&msg.Email,
		&msg.Message,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create contact message: %w", err)
	}

	return msg, nil
}

// GetStats aggregates the admin dashboard counters. Revenue counts paid
// orders only.
func GetStats(ctx context.Context, q Querier) (*models.Stats, error) {
	stats := &models.Stats{}
	var revenue decimal.Decimal

	err := q.QueryRowContext(ctx,
		`SELECT
		     (SELECT COUNT(*) FROM users),
		     (SELECT COUNT(*) FROM products),
		     (SELECT COUNT(*) FROM orders),
		     (SELECT COALESCE(SUM(amount), 0) FROM orders WHERE status = $1)`,
		models.OrderStatusPaid).Scan(
		&stats.TotalUsers,
		&stats.TotalProducts,
		&stats.TotalOrders,
		&revenue,
	)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	stats.TotalRevenue = revenue
	return stats, nil
}
