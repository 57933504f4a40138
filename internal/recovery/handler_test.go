package recovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-academy/backend/internal/middleware"
	"github.com/aura-academy/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type signer struct{}

func (signer) PresignSlip(_ context.Context, key string) (string, error) {
	return "https://slips.example.com/" + key + "?sig=1", nil
}

func newRouter(f *fixture) *gin.Engine {
	h := NewHandler(f.svc, signer{}, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserID, f.user) })
	r.GET("/admin/payments", h.ListStuck)
	r.POST("/admin/payments/:id/retry", h.Retry)
	r.GET("/checkout/stripe/confirm", h.ConfirmStripe)
	return r
}

func do(r http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var env map[string]json.RawMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestHandler_RetryBundleApproval(t *testing.T) {
	f := newFixture()
	id := f.payment(models.PaymentMethodPromptPay, models.PaymentStatusVerifying, true, 0)

	rec, env := do(newRouter(f), http.MethodPost, "/admin/payments/"+id.String()+"/retry", `{"action":"approve"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var data struct {
		Status   string      `json:"status"`
		Enrolled []uuid.UUID `json:"enrolled"`
	}
	if err := json.Unmarshal(env["data"], &data); err != nil {
		t.Fatal(err)
	}
	if data.Status != models.PaymentStatusCompleted || len(data.Enrolled) != 2 {
		t.Errorf("data = %+v", data)
	}
}

func TestHandler_RetryErrors(t *testing.T) {
	f := newFixture()
	r := newRouter(f)
	capped := f.payment(models.PaymentMethodPromptPay, models.PaymentStatusFailed, false, 5)
	done := f.payment(models.PaymentMethodPromptPay, models.PaymentStatusCompleted, false, 0)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"bad id", "/admin/payments/nope/retry", `{"action":"approve"}`, http.StatusBadRequest},
		{"bad action", "/admin/payments/" + capped.String() + "/retry", `{"action":"refund"}`, http.StatusBadRequest},
		{"unknown payment", "/admin/payments/" + uuid.NewString() + "/retry", `{"action":"approve"}`, http.StatusNotFound},
		{"retry cap", "/admin/payments/" + capped.String() + "/retry", `{"action":"approve"}`, http.StatusUnprocessableEntity},
		{"already completed", "/admin/payments/" + done.String() + "/retry", `{"action":"reject"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec, _ := do(r, http.MethodPost, tt.path, tt.body); rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestHandler_ListStuck(t *testing.T) {
	f := newFixture()
	id := f.payment(models.PaymentMethodPromptPay, models.PaymentStatusVerifying, false, 0)
	if err := f.store.SetSlipURL(context.Background(), id, "slips/u/p.jpg"); err != nil {
		t.Fatal(err)
	}
	f.payment(models.PaymentMethodPromptPay, models.PaymentStatusCompleted, false, 0)
	r := newRouter(f)

	rec, env := do(r, http.MethodGet, "/admin/payments", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rows []StuckPayment
	if err := json.Unmarshal(env["data"], &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != id || !strings.Contains(rows[0].SlipViewURL, "slips/u/p.jpg") {
		t.Errorf("rows = %+v", rows)
	}

	if rec, _ := do(r, http.MethodGet, "/admin/payments?status=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d", rec.Code)
	}
	if rec, _ := do(r, http.MethodGet, "/admin/payments?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", rec.Code)
	}
}

func TestHandler_ConfirmStripe(t *testing.T) {
	f := newFixture()
	id := f.payment(models.PaymentMethodStripe, models.PaymentStatusPending, false, 0)
	f.sessions.sess = f.stripeSession(id, true)
	r := newRouter(f)

	rec, env := do(r, http.MethodGet, "/checkout/stripe/confirm?session_id=cs_test_1&course_id="+f.courses[0].String()+"&payment_id="+id.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var res ReconcileResult
	if err := json.Unmarshal(env["data"], &res); err != nil {
		t.Fatal(err)
	}
	if !res.Settled || !res.Enrolled {
		t.Errorf("result = %+v", res)
	}

	if rec, _ := do(r, http.MethodGet, "/checkout/stripe/confirm?session_id=cs_test_1&payment_id="+id.String(), ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing target = %d, want 400", rec.Code)
	}
}
