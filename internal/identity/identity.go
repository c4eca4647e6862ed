// Package identity 把用户池签发的 Bearer token 解析为调用方身份，供解析管道鉴权
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthType 调用方的认证方式
type AuthType string

const (
	AuthTypeNone     AuthType = ""
	AuthTypeUserPool AuthType = "User Pool Authorization"
)

const (
	ClaimUsername        = "username"
	ClaimCognitoUsername = "cognito:username"
)

var (
	ErrMissingSecret = errors.New("identity: signing secret is empty")
	ErrInvalidToken  = errors.New("identity: invalid token")
)

// Identity 单次请求的调用方；nil 或匿名身份不带任何 claim
type Identity struct {
	AuthType AuthType
	Sub      string
	Claims   map[string]any
	SourceIP string
}

// Anonymous 未认证调用方
func Anonymous(ip string) *Identity {
	return &Identity{AuthType: AuthTypeNone, SourceIP: ip}
}

// StringClaim 读取非空字符串 claim
func (i *Identity) StringClaim(name string) (string, bool) {
	if i == nil || i.Claims == nil {
		return "", false
	}
	s, ok := i.Claims[name].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Username 优先取 username，其次 cognito:username
func (i *Identity) Username() (string, bool) {
	if v, ok := i.StringClaim(ClaimUsername); ok {
		return v, true
	}
	return i.StringClaim(ClaimCognitoUsername)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext 取出 ctx 中的身份，没有时返回 nil
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}

// Verifier 校验 HS256 用户池 token
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(secret, issuer, audience string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, audience: audience}, nil
}

// Verify 解析 token 并返回用户池身份
func (v *Verifier) Verify(token, sourceIP string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, _ := claims.GetSubject()
	return &Identity{
		AuthType: AuthTypeUserPool,
		Sub:      sub,
		Claims:   claims,
		SourceIP: sourceIP,
	}, nil
}

// Issuer 签发与用户池 id token 同构的开发用 token
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewIssuer(secret, issuer, audience string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, audience: audience, ttl: ttl, now: time.Now}, nil
}

// Issue 为 username 签发 token
func (i *Issuer) Issue(username string) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub":                uuid.NewString(),
		ClaimCognitoUsername: username,
		"token_use":          "id",
		"iat":                now.Unix(),
		"exp":                now.Add(i.ttl).Unix(),
	}
	if i.issuer != "" {
		claims["iss"] = i.issuer
	}
	if i.audience != "" {
		claims["aud"] = i.audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
