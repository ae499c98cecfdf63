package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GoogleCertsURL publishes the certificates Firebase ID tokens are signed with.
const GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

var (
	ErrInvalidToken = errors.New("invalid ID token")
	ErrUnknownKey   = errors.New("unknown signing key")
)

// TokenVerifier turns an identity token into a principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// KeySource resolves a signing key id to its RSA public key.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// FirebaseClaims are the claims of a Firebase ID token that we read.
type FirebaseClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier checks Firebase ID tokens issued for one project.
type Verifier struct {
	projectID string
	keys      KeySource
	leeway    time.Duration
}

func NewVerifier(projectID string, keys KeySource) *Verifier {
	return &Verifier{
		projectID: projectID,
		keys:      keys,
		leeway:    time.Minute,
	}
}

func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	claims := &FirebaseClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrUnknownKey)
		}
		return v.keys.PublicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	return &Principal{
		UID:   claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	}, nil
}

// StaticKeys is a fixed KeySource.
type StaticKeys map[string]*rsa.PublicKey

func (k StaticKeys) PublicKey(_ context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok := k[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return key, nil
}

// CertKeySource fetches PEM certificates keyed by kid and caches them for the
// max-age the endpoint advertises.
type CertKeySource struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

func NewCertKeySource(url string, client *http.Client) *CertKeySource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CertKeySource{url: url, client: client}
}

func (s *CertKeySource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys == nil || time.Now().After(s.expires) {
		if err := s.refresh(ctx); err != nil {
			return nil, err
		}
	}

	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return key, nil
}

// refresh must be called with mu held.
func (s *CertKeySource) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch signing certificates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch signing certificates: status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("failed to decode signing certificates: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pem := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return fmt.Errorf("failed to parse certificate %s: %w", kid, err)
		}
		keys[kid] = key
	}

	s.keys = keys
	s.expires = time.Now().Add(maxAge(resp.Header.Get("Cache-Control")))
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return time.Hour
}
