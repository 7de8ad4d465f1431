package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "agent-iam"
	audience = "agent-iam-api"
)

// JWTManager implements core.JWTManager: HS256 access and refresh tokens
// backed by a shared symmetric secret. Grounded on auth/crypto/crypto.go's
// JWTManager, switched from the teacher's ES256/JWK keypair to the
// symmetric secret SPEC_FULL.md §4.2/§6 requires.
type JWTManager struct {
	secret          []byte
	accessTTL       time.Duration
	refreshTTL      time.Duration
}

// NewJWTManager builds a JWTManager. secret must be at least 32 bytes;
// startup fails otherwise, per spec §4.2.
func NewJWTManager(secret string, accessTTL, refreshTTL time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, errs.New(errs.Cryptographic, "jwt secret must be at least 32 bytes")
	}
	return &JWTManager{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

func (m *JWTManager) MintAccess(identityID, tenantID string, kind core.IdentityKind) (string, error) {
	now := time.Now().UTC()
	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"sub":       identityID,
		"tenant_id": tenantID,
		"kind":      string(kind),
		"iat":       now.Unix(),
		"exp":       now.Add(m.accessTTL).Unix(),
		"jti":       jti,
		"iss":       issuer,
		"aud":       []string{audience},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", errs.Wrap(errs.Cryptographic, "sign access token", err)
	}
	return signed, nil
}

// MintRefresh mints a refresh token. If familyID is empty, a new family is
// started; otherwise the token carries the supplied family forward.
func (m *JWTManager) MintRefresh(identityID, tenantID, familyID string) (string, error) {
	now := time.Now().UTC()
	if familyID == "" {
		familyID = uuid.NewString()
	}
	claims := jwt.MapClaims{
		"sub":       identityID,
		"tenant_id": tenantID,
		"iat":       now.Unix(),
		"exp":       now.Add(m.refreshTTL).Unix(),
		"jti":       uuid.NewString(),
		"family_id": familyID,
		"iss":       issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", errs.Wrap(errs.Cryptographic, "sign refresh token", err)
	}
	return signed, nil
}

func (m *JWTManager) ValidateAccess(tokenString string) (*core.AccessClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyfunc,
		jwt.WithIssuer(issuer), jwt.WithAudience(audience), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, classifyParseErr(err)
	}
	if !token.Valid {
		return nil, errs.New(errs.TokenInvalid, "invalid access token")
	}

	sub, _ := claims.GetSubject()
	tenantID, _ := claims["tenant_id"].(string)
	kind, _ := claims["kind"].(string)
	jti, _ := claims["jti"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errs.New(errs.TokenInvalid, "access token missing exp")
	}
	iat, _ := claims.GetIssuedAt()
	var iatUnix int64
	if iat != nil {
		iatUnix = iat.Unix()
	}

	return &core.AccessClaims{
		Subject:   sub,
		TenantID:  tenantID,
		Kind:      core.IdentityKind(kind),
		IssuedAt:  iatUnix,
		ExpiresAt: exp.Unix(),
		JTI:       jti,
		Issuer:    issuer,
		Audience:  []string{audience},
	}, nil
}

func (m *JWTManager) ValidateRefresh(tokenString string) (*core.RefreshClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyfunc,
		jwt.WithIssuer(issuer), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, classifyParseErr(err)
	}
	if !token.Valid {
		return nil, errs.New(errs.TokenInvalid, "invalid refresh token")
	}

	sub, _ := claims.GetSubject()
	tenantID, _ := claims["tenant_id"].(string)
	jti, _ := claims["jti"].(string)
	familyID, _ := claims["family_id"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errs.New(errs.TokenInvalid, "refresh token missing exp")
	}
	iat, _ := claims.GetIssuedAt()
	var iatUnix int64
	if iat != nil {
		iatUnix = iat.Unix()
	}

	return &core.RefreshClaims{
		Subject:   sub,
		TenantID:  tenantID,
		IssuedAt:  iatUnix,
		ExpiresAt: exp.Unix(),
		JTI:       jti,
		FamilyID:  familyID,
		Issuer:    issuer,
	}, nil
}

// ExtractJTI structurally decodes token without verifying its signature, for
// revocation bookkeeping on tokens that may already be expired.
func (m *JWTManager) ExtractJTI(tokenString string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return "", errs.Wrap(errs.TokenInvalid, "decode token", err)
	}
	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return "", errs.New(errs.TokenInvalid, "token has no jti claim")
	}
	return jti, nil
}

func (m *JWTManager) keyfunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return m.secret, nil
}

func classifyParseErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return errs.Wrap(errs.TokenExpired, "token expired", err)
	default:
		return errs.Wrap(errs.TokenInvalid, "invalid token", err)
	}
}
