package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSignParse(t *testing.T) {
	ts := NewTokenService("s3cret", "carpulse", time.Hour)
	tok, exp, err := ts.Sign("dashboard", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}
	claims, err := ts.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "dashboard" || claims.Scope != ScopeRead {
		t.Fatalf("claims = %+v", claims)
	}

	other := NewTokenService("other", "carpulse", time.Hour)
	if _, err := other.Parse(tok); err == nil {
		t.Fatalf("token accepted with the wrong secret")
	}
	wrongIssuer := NewTokenService("s3cret", "someone-else", time.Hour)
	if _, err := wrongIssuer.Parse(tok); err == nil {
		t.Fatalf("token accepted with the wrong issuer")
	}
}

func TestExpiredToken(t *testing.T) {
	ts := TokenService{Secret: []byte("s3cret"), Issuer: "carpulse", Duration: -time.Minute}
	tok, _, err := ts.Sign("cron", ScopeRead)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := ts.Parse(tok); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestSignWithoutSecret(t *testing.T) {
	if _, _, err := (TokenService{}).Sign("x", ""); err != ErrNoSecret {
		t.Fatalf("err = %v, want ErrNoSecret", err)
	}
}

func serve(ts TokenService, header string) int {
	r := gin.New()
	r.GET("/p", Middleware(ts, ScopeRead), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestMiddleware(t *testing.T) {
	ts := NewTokenService("s3cret", "carpulse", time.Hour)
	good, _, _ := ts.Sign("dashboard", ScopeRead)
	admin, _, _ := ts.Sign("ops", "admin")

	tests := []struct {
		name   string
		ts     TokenService
		header string
		want   int
	}{
		{"disabled", TokenService{}, "", http.StatusNoContent},
		{"missing", ts, "", http.StatusUnauthorized},
		{"garbage", ts, "Bearer nope", http.StatusUnauthorized},
		{"wrong scope", ts, "Bearer " + admin, http.StatusForbidden},
		{"ok", ts, "Bearer " + good, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := serve(tc.ts, tc.header); got != tc.want {
				t.Fatalf("status = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestGetClaims(t *testing.T) {
	ts := NewTokenService("s3cret", "carpulse", time.Hour)
	tok, _, _ := ts.Sign("dashboard", ScopeRead)

	var subject string
	r := gin.New()
	r.GET("/x", Middleware(ts, ScopeRead), func(c *gin.Context) {
		if claims := GetClaims(c); claims != nil {
			subject = claims.Subject
		}
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if subject != "dashboard" {
		t.Fatalf("subject = %q, want dashboard", subject)
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if GetClaims(c) != nil {
		t.Fatalf("claims on an unauthenticated context")
	}
}
