// Package accounts registers and authenticates customers and agents and
// serves the material rate card.
package accounts

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/pickup-dispatch/internal/errs"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/storage"
)

const minPasswordLen = 6

type RegisterInput struct {
	Username string
	Password string
	Name     string
	Phone    string
	Address  string
	Role     models.Role
}

type Service struct {
	users      storage.UserStore
	categories storage.CategoryStore
	cost       int
	logger     *slog.Logger
}

func NewService(users storage.UserStore, categories storage.CategoryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, categories: categories, cost: bcrypt.DefaultCost, logger: logger}
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// HashPassword returns the bcrypt hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", errs.NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", errs.NewInternalError("hash password", err)
	}
	return string(b), nil
}

func (s *Service) Register(in RegisterInput) (models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return models.User{}, errs.NewValidationError("username", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return models.User{}, errs.NewValidationError("name", "is required")
	}
	if in.Role == "" {
		in.Role = models.RoleCustomer
	}
	if in.Role != models.RoleCustomer && in.Role != models.RoleAgent {
		return models.User{}, errs.NewValidationError("userType", "must be customer or agent")
	}
	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}

	u, err := s.users.CreateUser(models.User{
		Username:     in.Username,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Phone:        in.Phone,
		Address:      in.Address,
		Role:         in.Role,
		IsActive:     true,
		Rating:       decimal.RequireFromString("0.00"),
	})
	if err != nil {
		return models.User{}, err
	}
	s.logger.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// Login checks credentials. Unknown users, wrong passwords and inactive
// accounts all fail with the same unauthorized error.
func (s *Service) Login(username, password string) (models.User, error) {
	u, err := s.users.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return models.User{}, errs.ErrUnauthorized
		}
		return models.User{}, err
	}
	if !u.IsActive {
		return models.User{}, errs.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return models.User{}, errs.ErrUnauthorized
	}
	return u, nil
}

func (s *Service) GetUser(id int64) (models.User, error) {
	return s.users.GetUser(id)
}

// ActiveCategories returns the bookable rate card.
func (s *Service) ActiveCategories() []models.MaterialCategory {
	return s.categories.Categories(true)
}

func (s *Service) CreateCategory(c models.MaterialCategory) (models.MaterialCategory, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return models.MaterialCategory{}, errs.NewValidationError("name", "is required")
	}
	if !c.RatePerKg.IsPositive() {
		return models.MaterialCategory{}, errs.NewValidationError("ratePerKg", "must be positive")
	}
	return s.categories.CreateCategory(c), nil
}
