package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/trustguard/riskcore/internal/auth"
	"github.com/trustguard/riskcore/internal/repositories"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password does not meet requirements")
)

// AuthService handles admin API authentication.
type AuthService struct {
	operatorRepo *repositories.OperatorRepository
	jwtManager   *auth.JWTManager
}

func NewAuthService(operatorRepo *repositories.OperatorRepository, jwtManager *auth.JWTManager) *AuthService {
	return &AuthService{
		operatorRepo: operatorRepo,
		jwtManager:   jwtManager,
	}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	Token     string           `json:"token"`
	ExpiresIn int64            `json:"expires_in"`
	Operator  OperatorResponse `json:"operator"`
}

// OperatorResponse represents an operator in responses
type OperatorResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt string    `json:"created_at"`
}

// Register creates a new operator account.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if !auth.ValidatePasswordStrength(req.Password) {
		return nil, ErrWeakPassword
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = "viewer"
	}

	op := &repositories.Operator{
		Email:        req.Email,
		PasswordHash: hashedPassword,
		Role:         role,
	}

	if err := s.operatorRepo.Create(ctx, op); err != nil {
		if errors.Is(err, repositories.ErrOperatorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}

	return s.respond(op)
}

// Login authenticates an operator.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	op, err := s.operatorRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrOperatorNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find operator: %w", err)
	}

	if !auth.CheckPassword(req.Password, op.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.respond(op)
}

// RefreshToken issues a fresh token for a still-valid one.
func (s *AuthService) RefreshToken(ctx context.Context, currentToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(currentToken)
	if err != nil {
		return nil, err
	}

	op, err := s.operatorRepo.GetByID(ctx, claims.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("operator not found: %w", err)
	}

	return s.respond(op)
}

func (s *AuthService) respond(op *repositories.Operator) (*AuthResponse, error) {
	token, err := s.jwtManager.GenerateToken(op.ID, op.Email, op.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &AuthResponse{
		Token:     token,
		ExpiresIn: 86400,
		Operator: OperatorResponse{
			ID:        op.ID,
			Email:     op.Email,
			Role:      op.Role,
			CreatedAt: op.CreatedAt.Format("2006-01-02T15:04:05Z"),
		},
	}, nil
}
