package crypto

import (
	"testing"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-test-secret-at-least-32-bytes-long"

func TestJWTManager_RejectsShortSecret(t *testing.T) {
	_, err := NewJWTManager("too-short", time.Minute, time.Hour)
	require.Error(t, err)
	assert.Equal(t, errs.Cryptographic, errs.KindOf(err))
}

func TestJWTManager_MintAndValidateAccess(t *testing.T) {
	mgr, err := NewJWTManager(testSecret, 15*time.Minute, 14*24*time.Hour)
	require.NoError(t, err)

	token, err := mgr.MintAccess("identity-1", "tenant-1", core.KindUser)
	require.NoError(t, err)

	claims, err := mgr.ValidateAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "identity-1", claims.Subject)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, core.KindUser, claims.Kind)
	assert.NotEmpty(t, claims.JTI)
}

func TestJWTManager_MintAndValidateRefreshCarriesFamilyID(t *testing.T) {
	mgr, err := NewJWTManager(testSecret, 15*time.Minute, 14*24*time.Hour)
	require.NoError(t, err)

	token, err := mgr.MintRefresh("identity-1", "tenant-1", "")
	require.NoError(t, err)

	claims, err := mgr.ValidateRefresh(token)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.FamilyID)

	rotated, err := mgr.MintRefresh("identity-1", "tenant-1", claims.FamilyID)
	require.NoError(t, err)

	rotatedClaims, err := mgr.ValidateRefresh(rotated)
	require.NoError(t, err)
	assert.Equal(t, claims.FamilyID, rotatedClaims.FamilyID, "passing the prior family_id forward keeps the chain under one family")
}

func TestJWTManager_ValidateAccessRejectsTamperedToken(t *testing.T) {
	mgr, err := NewJWTManager(testSecret, 15*time.Minute, 14*24*time.Hour)
	require.NoError(t, err)

	token, err := mgr.MintAccess("identity-1", "tenant-1", core.KindUser)
	require.NoError(t, err)

	_, err = mgr.ValidateAccess(token + "tampered")
	require.Error(t, err)
	assert.Equal(t, errs.TokenInvalid, errs.KindOf(err))
}

func TestJWTManager_ExtractJTIWorksOnUnverifiedToken(t *testing.T) {
	mgr, err := NewJWTManager(testSecret, 15*time.Minute, 14*24*time.Hour)
	require.NoError(t, err)

	token, err := mgr.MintAccess("identity-1", "tenant-1", core.KindAgent)
	require.NoError(t, err)

	jti, err := mgr.ExtractJTI(token)
	require.NoError(t, err)
	assert.NotEmpty(t, jti)
}
