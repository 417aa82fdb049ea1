package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ErrAuthentication 表示无法解析出已认证身份，连接或请求会被直接拒绝。
var ErrAuthentication = errors.New("authentication failed")

type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

// Identity 是绑定到连接或请求上的已认证用户。
type Identity struct {
	UserID uint   `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == models.RoleAdmin }

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(userID uint, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// UserLookup 是 Binder 需要的最小存储接口。
type UserLookup interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

// Binder 把连接建立时携带的 token 解析为 (userId, name, role)。
type Binder struct {
	secret string
	users  UserLookup
}

func NewBinder(secret string, users UserLookup) *Binder {
	return &Binder{secret: secret, users: users}
}

func (b *Binder) Bind(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrAuthentication)
	}
	claims, err := ParseAccessToken(token, b.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	u, err := b.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, fmt.Errorf("%w: user %d not found", ErrAuthentication, claims.UserID)
	}
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: u.ID, Name: u.Name, Role: u.Role}, nil
}

// TokenFromRequest 优先读取 Authorization 头，浏览器 WebSocket 无法设置头时回退到 token 查询参数。
func TokenFromRequest(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("token")
}

func AuthMiddleware(b *Binder) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := b.Bind(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			if errors.Is(err, ErrAuthentication) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
				return
			}
			log.Error().Err(err).Msg("auth lookup user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Set("identity", id)
		c.Next()
	}
}

func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get("identity"); ok {
		if id, ok2 := v.(Identity); ok2 {
			return id
		}
	}
	return Identity{}
}

// RequireAdmin 必须挂在 AuthMiddleware 之后。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetIdentity(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}
