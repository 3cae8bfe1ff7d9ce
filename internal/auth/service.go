package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"roomrelay/internal/config"
)

var ErrInvalidToken = errors.New("invalid session token")

// Service hashes user credentials and issues the RS256 session tokens used
// for password-less session restore and the REST views.
type Service struct {
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
	ttl  time.Duration
	cost int
	now  func() time.Time
}

func NewService(cfg config.Config) *Service {
	s := &Service{ttl: cfg.SessionTTL, cost: bcrypt.DefaultCost, now: time.Now}
	if s.ttl <= 0 {
		s.ttl = 72 * time.Hour
	}
	s.initKeys(cfg.JWTPrivatePEM)
	return s
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

func (s *Service) initKeys(privatePEM string) {
	if strings.TrimSpace(privatePEM) != "" {
		if block, _ := pem.Decode([]byte(privatePEM)); block != nil {
			if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				key.Precompute()
				s.priv = key
				s.pub = &key.PublicKey
				return
			}
		}
		log.Warn().Msg("JWT_PRIVATE_PEM is not a PKCS1 RSA key; generating an ephemeral key")
	}
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	s.priv = key
	s.pub = &key.PublicKey
}

// Hash turns a plaintext password into the stored credential.
func (s *Service) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches a credential produced by Hash.
func (s *Service) Verify(credential, password string) bool {
	if credential == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(credential), []byte(password)) == nil
}

func (s *Service) IssueToken(username string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": username,
		"exp": now.Add(s.ttl).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.priv)
}

// ParseToken validates raw and returns the username it was issued to.
func (s *Service) ParseToken(raw string) (string, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, errors.New("alg")
		}
		return s.pub, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// VerifyToken reports whether raw is a live token for username.
func (s *Service) VerifyToken(raw, username string) bool {
	if raw == "" {
		return false
	}
	sub, err := s.ParseToken(raw)
	return err == nil && sub == username
}

func (s *Service) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		username, err := s.ParseToken(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUsername, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey int

const ctxKeyUsername ctxKey = 1

func Username(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyUsername).(string)
	return v
}
