package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gigflow/ledger"
)

var (
	// ErrUnauthorized means the request carried no usable identity.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrInvalidToken signals a malformed, expired or wrongly signed token.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims is the payload of a caller token.
type Claims struct {
	ProfileID int64 `json:"profile_id"`
	jwt.RegisteredClaims
}

// Options configures identity resolution.
type Options struct {
	JWTSecret string
	TokenTTL  time.Duration
	// AllowProfileHeader accepts a bare profile_id header as identity.
	AllowProfileHeader bool
}

// Service resolves request credentials to the calling profile.
type Service struct {
	repo               Repository
	jwtSecret          []byte
	tokenTTL           time.Duration
	allowProfileHeader bool
	now                func() time.Time
}

func NewService(repo Repository, opts Options) *Service {
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		repo:               repo,
		jwtSecret:          []byte(opts.JWTSecret),
		tokenTTL:           ttl,
		allowProfileHeader: opts.AllowProfileHeader,
		now:                time.Now,
	}
}

// Resolve returns the profile behind cred. A bearer token takes precedence
// over the profile_id header. Every failure to identify a known profile is
// reported as ErrUnauthorized; store faults are returned as-is.
func (s *Service) Resolve(ctx context.Context, cred Credential) (ledger.CallerProfile, error) {
	var (
		profileID int64
		err       error
	)

	switch {
	case strings.TrimSpace(cred.Authorization) != "":
		raw, ok := bearerToken(cred.Authorization)
		if !ok {
			return ledger.CallerProfile{}, fmt.Errorf("%w: malformed authorization header", ErrUnauthorized)
		}
		profileID, err = s.VerifyToken(raw)
		if err != nil {
			return ledger.CallerProfile{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	case s.allowProfileHeader && strings.TrimSpace(cred.ProfileID) != "":
		profileID, err = strconv.ParseInt(strings.TrimSpace(cred.ProfileID), 10, 64)
		if err != nil || profileID <= 0 {
			return ledger.CallerProfile{}, fmt.Errorf("%w: invalid profile_id header", ErrUnauthorized)
		}
	default:
		return ledger.CallerProfile{}, ErrUnauthorized
	}

	profile, err := s.repo.GetProfileByID(ctx, profileID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return ledger.CallerProfile{}, fmt.Errorf("%w: unknown profile", ErrUnauthorized)
		}
		return ledger.CallerProfile{}, err
	}
	return profile, nil
}

// IssueToken signs a caller token for an existing profile.
func (s *Service) IssueToken(ctx context.Context, req IssueRequest) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", errors.New("auth: jwt secret not configured")
	}
	if _, err := s.repo.GetProfileByID(ctx, req.ProfileID); err != nil {
		return "", err
	}

	now := s.now()
	claims := Claims{
		ProfileID: req.ProfileID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(req.ProfileID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a caller token and returns its profile id.
func (s *Service) VerifyToken(tokenString string) (int64, error) {
	if len(s.jwtSecret) == 0 {
		return 0, fmt.Errorf("%w: tokens are disabled", ErrInvalidToken)
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ProfileID <= 0 {
		return 0, ErrInvalidToken
	}
	return claims.ProfileID, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
