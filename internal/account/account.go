// Package account handles email-code registration, password login and
// profile updates.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/database"
	"github.com/safar/cashback-store/internal/identity"
	"github.com/safar/cashback-store/internal/models"
	"github.com/safar/cashback-store/internal/otp"
	"github.com/safar/cashback-store/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost        = 10
	minPasswordLength = 6
	minNameLength     = 2
	maxNameLength     = 100
)

var (
	errEmailRequired  = apperr.Validation("a valid email is required")
	errFieldsRequired = apperr.Validation("all fields are required")
	errInvalidName    = apperr.Validation("invalid name entered")
	errShortPassword  = apperr.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	errSendFailed     = apperr.New(apperr.KindInternal, "failed to send code")
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(id identity.Identity) (string, time.Time, error)
}

type Config struct {
	CodeTTL    time.Duration
	CodeLength int
}

type Service struct {
	db       *sql.DB
	codes    otp.Store
	notifier otp.Notifier
	tokens   TokenIssuer
	logger   *zap.Logger
	codeTTL  time.Duration
	codeLen  int
}

func NewService(db *sql.DB, codes otp.Store, notifier otp.Notifier, tokens TokenIssuer, logger *zap.Logger, cfg Config) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}

	return &Service{
		db:       db,
		codes:    codes,
		notifier: notifier,
		tokens:   tokens,
		logger:   logger.Named("account"),
		codeTTL:  cfg.CodeTTL,
		codeLen:  cfg.CodeLength,
	}
}

// Session is a signed-in user and the token that proves it.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// SendCode issues a fresh code for email, replacing any earlier one.
func (s *Service) SendCode(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	code, err := otp.GenerateCode(s.codeLen)
	if err != nil {
		return apperr.Wrap(errSendFailed, err)
	}

	s.codes.Put(email, code, s.codeTTL)

	if err := s.notifier.SendCode(ctx, email, code, s.codeTTL); err != nil {
		s.codes.Delete(email)
		s.logger.Error("deliver code", zap.String("email", email), zap.Error(err))
		return apperr.Wrap(errSendFailed, err)
	}

	s.logger.Info("code sent", zap.String("email", email))
	return nil
}

func (s *Service) VerifyCode(_ context.Context, email, code string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return errFieldsRequired
	}
	return s.codes.Verify(email, code)
}

type RegisterInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Register creates an account for an email whose code has been verified.
// The code is consumed on success.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.Name) == "" || in.Password == "" {
		return nil, errFieldsRequired
	}

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name, err := cleanName(in.Name)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLength {
		return nil, errShortPassword
	}

	entry, ok := s.codes.Get(email)
	if !ok {
		return nil, apperr.ErrCodeExpired
	}
	if !entry.Verified {
		return nil, apperr.ErrCodeNotVerified
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := store.CreateUser(ctx, s.db, email, name, hash, false)
	if err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			return nil, apperr.ErrEmailTaken
		}
		return nil, apperr.Store(err)
	}

	s.codes.Delete(email)
	s.logger.Info("user registered", zap.Int64("user_id", user.ID))

	return s.newSession(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := store.GetUserByEmail(ctx, s.db, email)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, apperr.Store(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("login rejected", zap.Int64("user_id", user.ID))
		return nil, apperr.ErrInvalidCredentials
	}

	return s.newSession(user)
}

func (s *Service) Me(ctx context.Context, userID int64) (*models.User, error) {
	user, err := store.GetUser(ctx, s.db, userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Store(err)
	}
	return user, nil
}

func (s *Service) UpdateName(ctx context.Context, userID int64, name string) (*models.User, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	user, err := store.UpdateUserName(ctx, s.db, userID, name)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Store(err)
	}
	return user, nil
}

func (s *Service) newSession(user *models.User) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(identity.Identity{
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// HashPassword returns the bcrypt hash stored for a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errEmailRequired
	}
	return email, nil
}

var zeroWidth = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "")

// cleanName strips zero-width characters and collapses runs of whitespace.
func cleanName(name string) (string, error) {
	name = strings.Join(strings.Fields(zeroWidth.Replace(name)), " ")
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return "", errInvalidName
	}
	return name, nil
}
