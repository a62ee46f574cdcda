package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"fifoshop/backend/internal/cache"
	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/xid"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidToken       = errors.New("invalid or expired token")
	errAccountInactive    = errors.New("account is inactive")
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	blocklist cache.TokenBlocklist
	now       func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
}

type shopClaims struct {
	jwtlib.RegisteredClaims
	Role   string `json:"role"`
	ShopID int64  `json:"shop_id"`
}

// session is a verified access token.
type session struct {
	actor     domain.Actor
	tokenID   string
	expiresAt time.Time
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, blocklist cache.TokenBlocklist) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if blocklist == nil {
		blocklist = cache.NewMemoryTokenBlocklist()
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		blocklist: blocklist,
		now:       time.Now,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.userStore.GetUser(ctx, req.Username)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}

	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, errAccountInactive
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ShopID:      user.ShopID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(ctx context.Context, tokenStr string) (domain.Actor, error) {
	sess, err := a.parse(ctx, tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}
	return sess.actor, nil
}

// Logout revokes the token until it would have expired anyway.
func (a *AuthManager) Logout(ctx context.Context, tokenStr string) error {
	sess, err := a.parse(ctx, tokenStr)
	if err != nil {
		return err
	}
	ttl := sess.expiresAt.Sub(a.now())
	return a.blocklist.Revoke(ctx, sess.tokenID, sess.actor.Username, ttl)
}

// RegisterUser adds an account to shopID. Role defaults to operator.
func (a *AuthManager) RegisterUser(ctx context.Context, shopID int64, req domain.UserCreateRequest) (domain.UserView, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserView{}, fmt.Errorf("%w: username must be at least 4 characters", domain.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserView{}, fmt.Errorf("%w: username must not contain spaces", domain.ErrInvalidInput)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.UserView{}, fmt.Errorf("%w: password must be at least 6 characters", domain.ErrInvalidInput)
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case "":
		role = domain.RoleOperator
	case domain.RoleAdmin, domain.RoleOperator:
	default:
		return domain.UserView{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, req.Role)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("failed to hash password")
	}

	now := a.now().UTC()
	err = a.userStore.CreateUser(ctx, domain.UserAccount{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		ShopID:       shopID,
		Active:       true,
		CreatedAt:    now,
	})
	if err != nil {
		return domain.UserView{}, err
	}

	return domain.UserView{
		Username:  username,
		Role:      role,
		ShopID:    shopID,
		Active:    true,
		CreatedAt: now,
	}, nil
}

func (a *AuthManager) parse(ctx context.Context, tokenStr string) (session, error) {
	claims := &shopClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return session{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return session{}, errors.New("invalid token subject")
	}
	if claims.ShopID < 1 || claims.ID == "" || claims.ExpiresAt == nil {
		return session{}, errInvalidToken
	}

	revoked, err := a.blocklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return session{}, errInvalidToken
	}

	return session{
		actor:     domain.Actor{Username: sub, Role: claims.Role, ShopID: claims.ShopID},
		tokenID:   claims.ID,
		expiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := shopClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "fifoshop",
		},
		Role:   user.Role,
		ShopID: user.ShopID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
