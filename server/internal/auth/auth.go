// Package auth guards HMLR's HTTP/GraphQL surface with bearer-JWT
// authentication over a single operators table: a bcrypt+JWT shape for
// ambient service auth, distinct from any per-conversation-user identity,
// which this system does not model.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOperatorExists     = errors.New("operator already exists")
)

type contextKey string

const operatorIDKey contextKey = "operator_id"

// Operator is one HTTP/GraphQL service account.
type Operator struct {
	ID        int
	Email     string
	CreatedAt time.Time
}

// Service handles operator registration, login, and token validation.
type Service struct {
	jwtSecret []byte
}

// NewService creates a new auth service.
func NewService(jwtSecret string) *Service {
	if jwtSecret == "" {
		jwtSecret = "development-secret-key-change-in-production"
	}
	return &Service{jwtSecret: []byte(jwtSecret)}
}

// Register creates a new operator account.
func (s *Service) Register(ctx context.Context, db *sql.DB, email, password string) (*Operator, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	var op Operator
	err = db.QueryRowContext(ctx, `
		INSERT INTO operators (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, created_at
	`, email, string(hashedPassword)).Scan(&op.ID, &op.Email, &op.CreatedAt)

	if err != nil {
		if err.Error() == `pq: duplicate key value violates unique constraint "operators_email_key"` {
			return nil, ErrOperatorExists
		}
		return nil, fmt.Errorf("error creating operator: %w", err)
	}

	return &op, nil
}

// Login authenticates an operator and returns a JWT token.
func (s *Service) Login(ctx context.Context, db *sql.DB, email, password string) (string, *Operator, error) {
	var op Operator
	var hashedPassword string

	err := db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM operators WHERE email = $1
	`, email).Scan(&op.ID, &op.Email, &hashedPassword, &op.CreatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("error finding operator: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": op.ID,
		"email":       op.Email,
		"exp":         time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("error generating token: %w", err)
	}

	return tokenString, &op, nil
}

// ValidateToken validates a JWT token and returns the operator ID.
func (s *Service) ValidateToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return 0, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		operatorID := int(claims["operator_id"].(float64))
		return operatorID, nil
	}

	return 0, errors.New("invalid token")
}

// ContextWithOperator stashes operatorID in ctx for downstream handlers.
func ContextWithOperator(ctx context.Context, operatorID int) context.Context {
	return context.WithValue(ctx, operatorIDKey, operatorID)
}

// OperatorFromContext retrieves the operator ID from context.
func OperatorFromContext(ctx context.Context) (int, bool) {
	operatorID, ok := ctx.Value(operatorIDKey).(int)
	return operatorID, ok
}
