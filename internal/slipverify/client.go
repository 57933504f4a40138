// Package slipverify checks PromptPay transfer slips against a SlipOK-style verification API.
package slipverify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-academy/backend/internal/metrics"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrTimeout means the API did not answer within the bound; the outcome is unknown.
	ErrTimeout = errors.New("slip verification timed out")
	// ErrTransport means the API could not be reached or answered with something unparseable.
	ErrTransport = errors.New("slip verification unavailable")
)

// Config holds verification API settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Slip is one uploaded transfer slip image.
type Slip struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Verification is the provider's verdict on a slip.
type Verification struct {
	Valid bool
	// Reason is set when Valid is false.
	Reason Reason
	// TransRef is the bank transaction reference of a valid slip.
	TransRef string
	// Amount is the settled amount reported by the provider; nil when absent.
	Amount *decimal.Decimal
	// Code and Message are the provider's raw fields.
	Code    int
	Message string
}

// Client calls the verification API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a verification client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{}, logger: logger}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Success  bool             `json:"success"`
		TransRef string           `json:"transRef"`
		Amount   *decimal.Decimal `json:"amount"`
	} `json:"data"`
}

// Verify submits the slip together with the amount the payer was asked to transfer.
// It returns ErrTimeout or ErrTransport when no verdict could be obtained.
func (c *Client) Verify(ctx context.Context, slip Slip, expected decimal.Decimal) (*Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, contentType, err := encodeRequest(slip, expected)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-authorization", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.SlipVerifyLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("slip verification returned unparseable body", zap.Int("status", resp.StatusCode), zap.Error(err))
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	if resp.StatusCode >= 500 && out.Code == 0 {
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	return interpret(out), nil
}

func interpret(out apiResponse) *Verification {
	v := &Verification{Code: out.Code, Message: out.Message}
	if out.Success && out.Data != nil && out.Data.Success {
		v.Valid = true
		v.TransRef = out.Data.TransRef
		v.Amount = out.Data.Amount
		return v
	}
	v.Reason = reasonForCode(out.Code)
	return v
}

func encodeRequest(slip Slip, expected decimal.Decimal) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%s`, strconv.Quote(slip.Filename)))
	h.Set("Content-Type", slip.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(slip.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := w.WriteField("amount", expected.StringFixed(2)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("log", "true"); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
