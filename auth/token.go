package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gbrlsnchs/jwt/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const RefreshCookieName = "refreshToken"

var (
	ErrNoToken      = errors.New("no token signed by this server found")
	ErrInvalidToken = errors.New("invalid token")
	ErrNotRefresh   = errors.New("token is not refresh token")
)

// Claims identify the user and wallet identity behind an access token.
type Claims struct {
	jwt.Payload
	UserID    string `json:"userId"`
	WalletKey string `json:"walletKey"`
}

type refreshClaims struct {
	jwt.Payload
	Refresh bool `json:"refresh"`
}

// AccessToken is the login/refresh response body.
type AccessToken struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

type Issuer struct {
	alg        *jwt.HMACSHA
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, accessTTL time.Duration, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		alg:        jwt.NewHS256([]byte(secret)),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

func (i *Issuer) payload(ttl time.Duration) jwt.Payload {
	now := i.now()
	return jwt.Payload{
		JWTID:          uuid.NewString(),
		IssuedAt:       jwt.NumericDate(now),
		ExpirationTime: jwt.NumericDate(now.Add(ttl)),
	}
}

func (i *Issuer) AccessToken(userID string, walletKey string) (*AccessToken, error) {
	claims := Claims{
		Payload:   i.payload(i.accessTTL),
		UserID:    userID,
		WalletKey: walletKey,
	}
	token, err := jwt.Sign(claims, i.alg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign access token")
	}
	return &AccessToken{
		Token:     string(token),
		ExpiresIn: int64(i.accessTTL / time.Second),
	}, nil
}

func (i *Issuer) RefreshToken() (string, error) {
	claims := refreshClaims{
		Payload: i.payload(i.refreshTTL),
		Refresh: true,
	}
	token, err := jwt.Sign(claims, i.alg)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign refresh token")
	}
	return string(token), nil
}

// VerifyAccess checks an access token's signature and, unless allowExpired is
// set, its expiry.
func (i *Issuer) VerifyAccess(token string, allowExpired bool) (*Claims, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	claims := &Claims{}
	var opts []jwt.VerifyOption
	if !allowExpired {
		opts = append(opts, jwt.ValidatePayload(&claims.Payload, jwt.ExpirationTimeValidator(i.now())))
	}
	if _, err := jwt.Verify([]byte(token), i.alg, claims, opts...); err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.UserID == "" || claims.WalletKey == "" {
		return nil, errors.Wrap(ErrInvalidToken, "missing user claims")
	}
	return claims, nil
}

func (i *Issuer) VerifyRefresh(token string) error {
	if token == "" {
		return ErrNoToken
	}
	claims := &refreshClaims{}
	_, err := jwt.Verify(
		[]byte(token),
		i.alg,
		claims,
		jwt.ValidatePayload(&claims.Payload, jwt.ExpirationTimeValidator(i.now())),
	)
	if err != nil {
		return errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !claims.Refresh {
		return ErrNotRefresh
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func RefreshCookie(r *http.Request) string {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
