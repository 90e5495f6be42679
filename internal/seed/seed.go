// Package seed loads catalog, prize, news and account fixtures from YAML.
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/safar/cashback-store/internal/account"
	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/store"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type File struct {
	Users    []User    `yaml:"users"`
	Products []Product `yaml:"products"`
	Prizes   []Prize   `yaml:"prizes"`
	News     []News    `yaml:"news"`
}

type User struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Admin    bool   `yaml:"admin"`
}

type Product struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Image       string `yaml:"image"`
	Price       string `yaml:"price"`
	Stock       int    `yaml:"stock"`
	Active      *bool  `yaml:"active"`
}

type Prize struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Image       string `yaml:"image"`
	Points      int64  `yaml:"points"`
	Stock       int    `yaml:"stock"`
	Active      *bool  `yaml:"active"`
}

type News struct {
	Title     string `yaml:"title"`
	Content   string `yaml:"content"`
	Thumbnail string `yaml:"thumbnail"`
}

// Summary counts the rows Apply inserted.
type Summary struct {
	Users    int
	Products int
	Prizes   int
	News     int
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	for i, u := range f.Users {
		if u.Email == "" || u.Password == "" {
			return fmt.Errorf("users[%d]: email and password are required", i)
		}
	}
	for i, p := range f.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("products[%d]: invalid price %q", i, p.Price)
		}
		if p.Name == "" || p.Stock < 0 {
			return fmt.Errorf("products[%d]: name and non-negative stock are required", i)
		}
	}
	for i, p := range f.Prizes {
		if p.Name == "" || p.Points <= 0 || p.Stock < 0 {
			return fmt.Errorf("prizes[%d]: name, positive points and non-negative stock are required", i)
		}
	}
	for i, n := range f.News {
		if n.Title == "" || n.Content == "" {
			return fmt.Errorf("news[%d]: title and content are required", i)
		}
	}
	return nil
}

// Apply inserts everything in f in one transaction. Users whose email already
// exists are skipped so a seed file can be re-applied.
func Apply(ctx context.Context, db *sql.DB, f *File) (Summary, error) {
	var sum Summary

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		sum = Summary{}

		for _, u := range f.Users {
			email := strings.ToLower(strings.TrimSpace(u.Email))
			_, err := store.GetUserByEmail(ctx, tx, email)
			if err == nil {
				continue
			}
			if !errors.Is(err, database.ErrUserNotFound) {
				return err
			}

			hash, err := account.HashPassword(u.Password)
			if err != nil {
				return err
			}
			name := u.Name
			if name == "" {
				name = email
			}
			if _, err := store.CreateUser(ctx, tx, email, name, hash, u.Admin); err != nil {
				return fmt.Errorf("seed user %s: %w", email, err)
			}
			sum.Users++
		}

		for _, p := range f.Products {
			_, err := store.CreateProduct(ctx, tx, store.ProductInput{
				Name:        p.Name,
				Description: p.Description,
				Image:       p.Image,
				Price:       decimal.RequireFromString(p.Price),
				Stock:       p.Stock,
				IsActive:    p.Active == nil || *p.Active,
			})
			if err != nil {
				return fmt.Errorf("seed product %s: %w", p.Name, err)
			}
			sum.Products++
		}

		for _, p := range f.Prizes {
			_, err := store.CreatePrize(ctx, tx, store.PrizeInput{
				Name:        p.Name,
				Description: p.Description,
				Image:       p.Image,
				Points:      p.Points,
				Stock:       p.Stock,
				IsActive:    p.Active == nil || *p.Active,
			})
			if err != nil {
				return fmt.Errorf("seed prize %s: %w", p.Name, err)
			}
			sum.Prizes++
		}

		for _, n := range f.News {
			if _, err := store.CreateNews(ctx, tx, n.Title, n.Content, n.Thumbnail); err != nil {
				return fmt.Errorf("seed news %s: %w", n.Title, err)
			}
			sum.News++
		}

		return nil
	})

	return sum, err
}
