package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-academy/backend/internal/auth"
	"github.com/aura-academy/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestJWTAndRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := gin.New()
	r.GET("/admin", JWT(svc), RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, c.MustGet(ContextUserID).(uuid.UUID).String())
	})

	admin, _ := svc.Generate(uuid.New(), "admin@example.com", models.RoleAdmin)
	student, _ := svc.Generate(uuid.New(), "s@example.com", models.RoleStudent)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"admin", "Bearer " + admin, http.StatusOK},
		{"student", "Bearer " + student, http.StatusForbidden},
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token " + admin, http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Header().Get(HeaderRequestID) != "req-1" {
		t.Errorf("request id not echoed")
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zap.ErrorLevel {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].ContextMap()["request_id"] != "req-1" {
		t.Errorf("fields = %v", entries[0].ContextMap())
	}
}

func TestCORS(t *testing.T) {
	newRouter := func(origins string) *gin.Engine {
		r := gin.New()
		r.Use(CORS(origins))
		r.POST("/checkout/slip", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}
	do := func(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/checkout/slip", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	t.Run("listed origin preflight", func(t *testing.T) {
		rec := do(newRouter("https://academy.example, https://admin.academy.example/"), http.MethodOptions, "https://admin.academy.example")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.academy.example" {
			t.Errorf("allow origin = %q", got)
		}
		if rec.Header().Get("Vary") != "Origin" || rec.Header().Get("Access-Control-Allow-Headers") != corsHeaders {
			t.Errorf("headers = %v", rec.Header())
		}
	})

	t.Run("unlisted origin", func(t *testing.T) {
		r := newRouter("https://academy.example")
		if rec := do(r, http.MethodOptions, "https://evil.example"); rec.Code != http.StatusForbidden {
			t.Errorf("preflight status = %d, want 403", rec.Code)
		}
		rec := do(r, http.MethodPost, "https://evil.example")
		if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Errorf("status = %d allow origin = %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		rec := do(newRouter(""), http.MethodPost, "https://anything.example")
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" || rec.Header().Get("Access-Control-Expose-Headers") != "X-Request-ID" {
			t.Errorf("headers = %v", rec.Header())
		}
	})

	t.Run("no origin passes through", func(t *testing.T) {
		rec := do(newRouter("https://academy.example"), http.MethodPost, "")
		if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Errorf("status = %d headers = %v", rec.Code, rec.Header())
		}
	})
}
