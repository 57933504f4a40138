package slipverify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testSlip() Slip {
	return Slip{Filename: "slip.jpg", ContentType: "image/jpeg", Data: []byte("\xff\xd8\xffjpeg")}
}

func TestVerify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-authorization") != "key-123" {
			t.Errorf("missing api key header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("amount"); got != "792.00" {
			t.Errorf("amount = %q", got)
		}
		f, hdr, err := r.FormFile("files")
		if err != nil {
			t.Fatalf("files part: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "slip.jpg" || string(data) != "\xff\xd8\xffjpeg" {
			t.Errorf("file = %s %q", hdr.Filename, data)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"data":{"success":true,"transRef":"TX123","amount":792}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "key-123"}, nil)
	v, err := c.Verify(context.Background(), testSlip(), decimal.RequireFromString("792"))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !v.Valid || v.TransRef != "TX123" {
		t.Errorf("verification = %+v", v)
	}
	if v.Amount == nil || !v.Amount.Equal(decimal.RequireFromString("792")) {
		t.Errorf("amount = %v", v.Amount)
	}
}

func TestVerify_ProviderCodes(t *testing.T) {
	tests := []struct {
		code int
		want Reason
	}{
		{1012, ReasonDuplicate},
		{1006, ReasonUnreadable},
		{1011, ReasonUnreadable},
		{1009, ReasonNotSettled},
		{1014, ReasonReceiverMismatch},
		{1013, ReasonAmountMismatch},
		{1099, ReasonRejected},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"success":false,"code":`+strconv.Itoa(tt.code)+`,"message":"rejected"}`)
			}))
			defer srv.Close()

			v, err := NewClient(Config{URL: srv.URL}, nil).Verify(context.Background(), testSlip(), decimal.NewFromInt(100))
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if v.Valid || v.Reason != tt.want || v.Code != tt.code {
				t.Errorf("got %+v, want reason %s", v, tt.want)
			}
		})
	}
}

func TestVerify_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Verify(context.Background(), testSlip(), decimal.NewFromInt(100))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestVerify_TransportFailures(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := NewClient(Config{URL: url}, nil).Verify(context.Background(), testSlip(), decimal.NewFromInt(1))
		if !errors.Is(err, ErrTransport) {
			t.Errorf("err = %v, want ErrTransport", err)
		}
	})
	t.Run("server error without body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewClient(Config{URL: srv.URL}, nil).Verify(context.Background(), testSlip(), decimal.NewFromInt(1))
		if !errors.Is(err, ErrTransport) {
			t.Errorf("err = %v, want ErrTransport", err)
		}
	})
}

func TestReason_Message(t *testing.T) {
	if ReasonDuplicate.Message("en") == ReasonDuplicate.Message("th") {
		t.Error("locales should differ")
	}
	if Reason("other").Message("en") != ReasonRejected.Message("en") {
		t.Error("unknown reason should fall back to generic rejection")
	}
	seen := map[string]Reason{}
	for r := range messages {
		msg := r.Message("en")
		if prev, ok := seen[msg]; ok {
			t.Errorf("%s and %s share a message", r, prev)
		}
		seen[msg] = r
	}
}
