package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/config"
	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/models"
	"github.com/Wikid82/gearshare/backend/internal/util"
)

const (
	maxFailedLogins  = 5
	lockoutDuration  = 15 * time.Minute
	minPasswordChars = 8
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidToken       = errors.New("invalid token")
)

// Session is an issued login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AuthService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewAuthService(db *gorm.DB, cfg config.Config) *AuthService {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("generate jwt secret: %v", err))
		}
		logger.Log().Warn("GEARSHARE_JWT_SECRET not set, sessions will not survive a restart")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{db: db, secret: secret, ttl: ttl, now: time.Now, revoked: map[string]time.Time{}}
}

// Register creates an account. The first account becomes the administrator;
// every account is a renter.
func (s *AuthService) Register(email, password, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address")
	}
	if len(password) < minPasswordChars {
		return nil, ErrWeakPassword
	}

	user := &models.User{UUID: uuid.NewString(), Email: email, Name: strings.TrimSpace(name), Enabled: true}
	if err := user.SetPassword(password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		var total int64
		if err := tx.Model(&models.User{}).Count(&total).Error; err != nil {
			return err
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		roles := []models.UserRole{{UserUUID: user.UUID, Role: models.RoleRenter, AssignedBy: "system"}}
		if total == 0 {
			roles = append(roles, models.UserRole{UserUUID: user.UUID, Role: models.RoleAdmin, AssignedBy: "system"})
		}
		if err := tx.Create(&roles).Error; err != nil {
			return err
		}
		user.Roles = roles
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log().WithField("user", util.MaskEmail(email)).Info("user registered")
	return user, nil
}

// Login checks credentials and issues a session. Five consecutive failures
// lock the account for fifteen minutes.
func (s *AuthService) Login(email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if user.IsLocked(now) {
		return nil, ErrAccountLocked
	}

	if !user.CheckPassword(password) {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= maxFailedLogins {
			until := now.Add(lockoutDuration)
			user.LockedUntil = &until
		}
		s.db.Model(&user).Select("failed_login_attempts", "locked_until").Updates(&user)
		logger.Log().WithField("user", util.MaskEmail(email)).Warn("failed login attempt")
		return nil, ErrInvalidCredentials
	}

	if !user.Active() {
		return nil, ErrAccountDisabled
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now
	s.db.Model(&user).Select("failed_login_attempts", "locked_until", "last_login").Updates(&user)

	return s.GenerateToken(&user)
}

// GenerateToken issues a signed HS256 session token for user.
func (s *AuthService) GenerateToken(user *models.User) (*Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   user.UUID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		Issuer:    "gearshare",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{
		Token:     token,
		UserID:    user.UUID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ValidateToken verifies signature, expiry and revocation.
func (s *AuthService) ValidateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	s.mu.Lock()
	_, revoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes the token until it would have expired anyway.
func (s *AuthService) Logout(claims *jwt.RegisteredClaims) {
	if claims == nil || claims.ID == "" {
		return
	}
	exp := s.now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, until := range s.revoked {
		if !until.After(now) {
			delete(s.revoked, id)
		}
	}
	s.revoked[claims.ID] = exp
}

// GetUserByUUID loads an account with its roles.
func (s *AuthService) GetUserByUUID(id string) (*models.User, error) {
	var user models.User
	if err := s.db.Preload("Roles").Where("uuid = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
