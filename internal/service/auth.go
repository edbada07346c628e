package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hui-manager/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLen = 8

// Claims is the JWT payload handed to clients.
type Claims struct {
	UID  string     `json:"uid"`
	Role model.Role `json:"role"`
	Name string     `json:"name"`
	jwt.RegisteredClaims
}

type AuthService struct {
	db     *gorm.DB
	audit  *AuditService
	secret []byte
	ttl    time.Duration
}

func NewAuthService(db *gorm.DB, audit *AuditService, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &AuthService{db: db, audit: audit, secret: []byte(secret), ttl: ttl}
}

func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrInactiveUser
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&u).Update("last_login", now).Error; err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}
	u.LastLogin = &now
	s.audit.Record(ctx, Actor{UserID: u.ID, Role: u.Role, IP: ip}, ActionLogin, "User", u.ID, nil)
	return &u, nil
}

// Register creates a self-service USER account.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest, ip string) (*model.User, error) {
	u, err := createUser(ctx, s.db, model.CreateUserRequest{
		Email: req.Email, Password: req.Password, Name: req.Name, Phone: req.Phone, Role: model.RoleUser,
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, Actor{UserID: u.ID, Role: u.Role, IP: ip}, ActionCreate, "User", u.ID, map[string]any{"self_registered": true})
	return u, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return dbErr(err, "user "+userID)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&u).Update("password", hash).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.audit.Record(ctx, Actor{UserID: u.ID, Role: u.Role}, ActionUpdate, "User", u.ID, map[string]any{"field": "password"})
	return nil
}

func (s *AuthService) IssueToken(u *model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UID:  u.ID,
		Role: u.Role,
		Name: u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Authenticate parses token and loads its user. Role and name come from the
// stored row, not the claims, so demotion and deactivation apply to tokens
// already handed out.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, *Claims, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return nil, nil, err
	}
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", claims.UID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("token user %s: %w", claims.UID, ErrInvalidCredentials)
		}
		return nil, nil, fmt.Errorf("load token user: %w", err)
	}
	if !u.Active {
		return nil, nil, ErrInactiveUser
	}
	return &u, claims, nil
}

func (s *AuthService) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !t.Valid || claims.UID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", invalidf("password must be at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
