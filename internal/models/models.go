package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int64           `json:"id"`
	Email        string          `json:"email"`
	Name         string          `json:"name"`
	PasswordHash string          `json:"-"`
	IsAdmin      bool            `json:"is_admin"`
	Cashback     decimal.Decimal `json:"cashback"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      int             `json:"version"`
}

// UserSummary is the admin listing row.
type UserSummary struct {
	User
	OrderCount int64 `json:"order_count"`
}

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Image       string          `json:"image,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
}

type Order struct {
	ID             int64            `json:"id"`
	UserID         int64            `json:"user_id"`
	ProductID      int64            `json:"product_id"`
	OrderNumber    string           `json:"order_number"`
	Status         string           `json:"status"`
	Amount         decimal.Decimal  `json:"amount"`
	CashbackEarned *decimal.Decimal `json:"cashback_earned,omitempty"`
	PaymentRef     *string          `json:"payment_ref,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Version        int              `json:"version"`
}

const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (o *Order) IsTerminal() bool {
	return o.Status != OrderStatusPending
}

type CashbackTransaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	OrderID     *int64          `json:"order_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

const (
	TransactionTypeEarned = "earned"
	TransactionTypeSpent  = "spent"
)

type Prize struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Image       string    `json:"image,omitempty"`
	Points      int64     `json:"points"`
	Stock       int       `json:"stock"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PrizeClaim struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	PrizeID   int64     `json:"prize_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	ClaimStatusPending   = "pending"
	ClaimStatusFulfilled = "fulfilled"
	ClaimStatusRejected  = "rejected"
)

type News struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Date      time.Time `json:"date"`
}

type ContactMessage struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	TotalUsers    int64           `json:"total_users"`
	TotalProducts int64           `json:"total_products"`
	TotalOrders   int64           `json:"total_orders"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
}
