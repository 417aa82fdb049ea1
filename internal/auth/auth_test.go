package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3nha-do-chat")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	again, _ := HashPassword("s3nha-do-chat")
	if hash == again {
		t.Error("two hashes of one password are equal, want salted hashes")
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"same password", hash, "s3nha-do-chat", true},
		{"other password", hash, "s3nha", false},
		{"blank password", hash, "", false},
		{"not a bcrypt hash", "plain", "s3nha-do-chat", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccessToken(t *testing.T) {
	const secret = "token-secret"
	fresh, err := GenerateAccessToken(7, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	expired, _ := GenerateAccessToken(7, secret, -1)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 7})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID uint
		wantErr bool
	}{
		{"fresh", fresh, secret, 7, false},
		{"expired", expired, secret, 0, true},
		{"other secret", fresh, "other", 0, true},
		{"alg none", unsigned, secret, 0, true},
		{"garbage", "a.b.c", secret, 0, true},
		{"empty", "", secret, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if claims.UserID != tt.wantUID || claims.Subject != "7" {
				t.Errorf("claims = uid %d sub %q, want uid %d sub 7", claims.UserID, claims.Subject, tt.wantUID)
			}
		})
	}
}

func TestBinder_Bind(t *testing.T) {
	st := memstore.New()
	alice, err := st.AddUser(models.User{Name: "Alice", Username: "alice"})
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	secret := "binder-secret"
	valid, _ := GenerateAccessToken(alice.ID, secret, 15)
	ghost, _ := GenerateAccessToken(999, secret, 15)
	foreign, _ := GenerateAccessToken(alice.ID, "other-secret", 15)

	b := NewBinder(secret, st)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", valid, false},
		{"missing token", "", true},
		{"unknown user", ghost, true},
		{"wrong secret", foreign, true},
		{"garbage", "not-a-jwt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := b.Bind(context.Background(), tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Bind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrAuthentication) {
					t.Errorf("Bind() error = %v, want ErrAuthentication", err)
				}
				return
			}
			if id.UserID != alice.ID || id.Name != "Alice" || id.Role != models.RoleUser {
				t.Errorf("Bind() = %+v, want alice identity", id)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	if got := TokenFromRequest(r); got != "from-query" {
		t.Errorf("TokenFromRequest() = %q, want from-query", got)
	}

	r.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(r); got != "from-header" {
		t.Errorf("TokenFromRequest() = %q, want from-header", got)
	}
}

func TestMiddleware_AdminOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	user, _ := st.AddUser(models.User{Name: "User", Username: "user"})
	admin, _ := st.AddUser(models.User{Name: "Admin", Username: "admin", Role: models.RoleAdmin})
	const secret = "mw-secret"

	r := gin.New()
	r.POST("/admin/users", AuthMiddleware(NewBinder(secret, st)), RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusCreated, GetIdentity(c))
	})

	userTok, _ := GenerateAccessToken(user.ID, secret, 15)
	adminTok, _ := GenerateAccessToken(admin.ID, secret, 15)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"plain user", userTok, http.StatusForbidden},
		{"admin", adminTok, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/users", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
