package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vestvault/crypto"
)

const (
	headerSignature = "X-Signature"
	headerTimestamp = "X-Timestamp"
	headerNonce     = "X-Nonce"

	maxBodyBytes = 1 << 20
)

type callerContextKey struct{}

// SignatureAuth recovers the caller identity from a signed request. The
// signature covers the method, the URL path, the unix timestamp, the nonce and
// the body. Each (signer, nonce) pair is accepted once.
type SignatureAuth struct {
	maxSkew time.Duration
	now     func() time.Time
	nonces  *nonceRegistry
}

// NewSignatureAuth constructs an authenticator. A non-positive skew defaults
// to five minutes. Nonces are retained for twice the skew, the longest a
// timestamp stays acceptable; store may be nil to keep them in memory only.
func NewSignatureAuth(maxSkew time.Duration, now func() time.Time, store NonceStore) *SignatureAuth {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &SignatureAuth{maxSkew: maxSkew, now: now, nonces: newNonceRegistry(2*maxSkew, store)}
}

// Hydrate warms the nonce cache from the store.
func (a *SignatureAuth) Hydrate(ctx context.Context) (int, error) {
	return a.nonces.hydrate(ctx, a.now())
}

// Middleware rejects unsigned or stale requests and stores the caller in the
// request context. The body is restored for downstream handlers.
func (a *SignatureAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawTS := strings.TrimSpace(r.Header.Get(headerTimestamp))
		rawSig := strings.TrimPrefix(strings.TrimSpace(r.Header.Get(headerSignature)), "0x")
		nonce := strings.TrimSpace(r.Header.Get(headerNonce))
		if rawTS == "" || rawSig == "" || nonce == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "signature headers required")
			return
		}
		if len(nonce) > maxNonceLength {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "nonce too long")
			return
		}
		ts, err := strconv.ParseInt(rawTS, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid timestamp")
			return
		}
		now := a.now()
		skew := now.Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > a.maxSkew {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "timestamp outside allowed window")
			return
		}
		sig, err := hex.DecodeString(rawSig)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid signature encoding")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "read body")
			return
		}
		_ = r.Body.Close()
		caller, err := crypto.RecoverRequestSigner(r.Method, r.URL.Path, ts, nonce, body, sig)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			return
		}
		used, err := a.nonces.register(r.Context(), crypto.FromRaw(caller).String(), nonce, now)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "nonce store unavailable")
			return
		}
		if used {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "nonce already used")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext returns the authenticated identity.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(callerContextKey{}).([20]byte)
	return caller, ok
}
