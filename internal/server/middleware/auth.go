package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/peermarket/internal/crypto"
	"github.com/alanyoungcy/peermarket/internal/domain"
)

// MaxBodyBytes caps request bodies read for signature verification.
const MaxBodyBytes = 1 << 20

type identityKey struct{}

// IdentityFrom returns the caller identity established by Auth.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok && id != ""
}

// WithIdentity returns ctx carrying id. Tests use it to skip signing.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// AuthConfig controls request signature checks.
type AuthConfig struct {
	// Enabled requires a valid signature whenever an address is claimed.
	// Disabled trusts X-Peer-Address as is, for local development.
	Enabled bool
	MaxSkew time.Duration
	Now     func() time.Time

	// Nonces, when set, rejects a second use of the same signed request.
	// Reads are exempt. Claims last twice MaxSkew, the span in which a
	// timestamp can be accepted.
	Nonces domain.NonceStore
}

// Auth establishes the caller identity from the X-Peer-* headers. Requests
// without an address pass through anonymously; handlers that need an
// identity reject them. A claimed address with a missing, stale or foreign
// signature is rejected with 401.
func Auth(cfg AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	logger = logger.With(slog.String("component", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(crypto.HeaderAddress))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := domain.ParseIdentity(raw)
			if err != nil {
				writeUnauthorized(w, "malformed peer address")
				return
			}

			if cfg.Enabled {
				digest, err := verify(r, cfg, common.HexToAddress(string(id)))
				if err == nil {
					err = claim(r, cfg, id, digest)
				}
				if errors.Is(err, errNonceStore) {
					logger.ErrorContext(r.Context(), "auth: nonce store unavailable",
						slog.String("error", err.Error()),
					)
					writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "request could not be checked for replay")
					return
				}
				if err != nil {
					logger.WarnContext(r.Context(), "auth: request rejected",
						slog.String("identity", id.String()),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
					writeUnauthorized(w, err.Error())
					return
				}
			}
			noteIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

var (
	errStale      = errors.New("timestamp outside allowed skew")
	errReplayed   = errors.New("request already used")
	errNonceStore = errors.New("nonce store unavailable")
)

// verify checks the timestamp window and the signature, then restores the
// body for the handler. It returns the signed digest.
func verify(r *http.Request, cfg AuthConfig, claimed common.Address) ([]byte, error) {
	ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
	if err != nil {
		return nil, errors.New("missing or malformed timestamp")
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew > cfg.MaxSkew || -skew > cfg.MaxSkew {
		return nil, errStale
	}
	sig := r.Header.Get(crypto.HeaderSignature)
	if sig == "" {
		return nil, errors.New("missing signature")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			return nil, errors.New("unreadable body")
		}
		if len(body) > MaxBodyBytes {
			return nil, errors.New("body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	if err := crypto.VerifyRequest(claimed, r.Method, r.URL.Path, ts, body, sig); err != nil {
		return nil, errors.New("signature does not match peer address")
	}
	return crypto.RequestDigest(r.Method, r.URL.Path, ts, body), nil
}

// claim records the digest of a state-changing request. Keying on the
// digest rather than the signature bytes also catches re-encoded
// signatures over the same message.
func claim(r *http.Request, cfg AuthConfig, id domain.Identity, digest []byte) error {
	if cfg.Nonces == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil
	}
	key := "req:" + id.String() + ":" + hex.EncodeToString(digest)
	first, err := cfg.Nonces.Claim(r.Context(), key, 2*cfg.MaxSkew)
	if err != nil {
		return fmt.Errorf("%w: %w", errNonceStore, err)
	}
	if !first {
		return errReplayed
	}
	return nil
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", msg)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
