// Package relay forwards logged decisions to an external automation webhook.
package relay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"decisionlog/internal/config"
	"decisionlog/internal/domain"
)

const (
	EventDecisionLogged = "decision.logged"

	HeaderEvent     = "X-Decisionlog-Event"
	HeaderDelivery  = "X-Decisionlog-Delivery"
	HeaderSignature = "X-Decisionlog-Signature"

	defaultTimeout = 10 * time.Second
)

// Relay posts records to one webhook URL. The zero URL disables it.
type Relay struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// New builds a Relay from config.
func New(cfg config.WebhookConfig) *Relay {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Relay{
		url:    strings.TrimSpace(cfg.URL),
		secret: strings.TrimSpace(cfg.Secret),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Enabled reports whether a webhook URL is configured.
func (r *Relay) Enabled() bool {
	return r != nil && r.url != ""
}

// Host is the webhook host, for logs.
func (r *Relay) Host() string {
	if !r.Enabled() {
		return ""
	}
	u, err := url.Parse(r.url)
	if err != nil {
		return ""
	}
	return u.Host
}

// Send posts rec as JSON. A non-2xx response is an error.
func (r *Relay) Send(ctx context.Context, rec domain.Record) error {
	if !r.Enabled() {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, EventDecisionLogged)
	req.Header.Set(HeaderDelivery, uuid.NewString())
	if r.secret != "" {
		sig, err := r.sign(rec.ID, data)
		if err != nil {
			return fmt.Errorf("sign payload: %w", err)
		}
		req.Header.Set(HeaderSignature, sig)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// SignatureClaims binds a delivery to its body.
type SignatureClaims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

func (r *Relay) sign(id string, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	now := r.now()
	claims := SignatureClaims{
		BodySHA256: hex.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.secret))
}

// Verify checks a signature header against body with secret. Receivers can
// use it to authenticate deliveries.
func Verify(secret, signature string, body []byte) error {
	var claims SignatureClaims
	_, err := jwt.ParseWithClaims(signature, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	if claims.BodySHA256 != hex.EncodeToString(sum[:]) {
		return fmt.Errorf("body digest mismatch")
	}
	return nil
}
