// Package capability implements C7: asymmetric, attenuable agent tokens.
// Grounded on original_source/src/auth/biscuit.rs's block/fact/check
// construction, realized over github.com/biscuit-auth/biscuit-go/v2 — the
// direct Go port of the Rust biscuit_auth crate the original depends on.
//
// Unlike original_source, expires_at is encoded as a retrievable
// expires_at(ts) fact and read back directly in ExtractClaims, rather than
// inferred heuristically as issued_at+24h (SPEC_FULL.md §9, Open Question
// 2).
package capability

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	biscuit "github.com/biscuit-auth/biscuit-go/v2"
	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
)

// Manager implements core.CapabilityTokenManager.
type Manager struct {
	root  biscuit.PrivateKey
	pub   biscuit.PublicKey
	keyID string
}

// NewManager builds a Manager from a hex-encoded root private key. If
// rootKeyHex is empty, a fresh keypair is generated — acceptable for
// tests, but production deployments must persist the root key, since
// rotating it invalidates every outstanding agent token.
func NewManager(rootKeyHex, keyID string) (*Manager, error) {
	var priv biscuit.PrivateKey
	var err error
	if rootKeyHex != "" {
		priv, err = privateKeyFromHex(rootKeyHex)
		if err != nil {
			return nil, errs.Wrap(errs.Cryptographic, "parse biscuit root key", err)
		}
	} else {
		priv, err = biscuit.NewPrivateKey(rand.Reader)
		if err != nil {
			return nil, errs.Wrap(errs.Cryptographic, "generate biscuit root key", err)
		}
	}
	return &Manager{root: priv, pub: priv.Public(), keyID: keyID}, nil
}

// PublicKeyBytes exports the root public key for downstream verifiers.
func (m *Manager) PublicKeyBytes() []byte {
	return m.pub.Bytes()
}

// Mint builds and signs a new capability token for the given request.
func (m *Manager) Mint(req core.CapabilityMintRequest) (string, error) {
	now := time.Now().UTC()
	if !req.ExpiresAt.After(now) {
		return "", errs.New(errs.ValidationError, "capability token expires_at must be in the future")
	}

	builder := biscuit.NewBuilder(m.root)

	if err := builder.AddAuthorityFact(biscuit.Fact{
		Predicate: biscuit.Predicate{
			Name: "agent",
			IDs: []biscuit.Term{
				biscuit.String(req.AgentID),
				biscuit.String(req.TenantID),
				biscuit.String(req.ParentID),
				biscuit.String(req.TaskID),
			},
		},
	}); err != nil {
		return "", errs.Wrap(errs.Cryptographic, "add agent fact", err)
	}

	if err := builder.AddAuthorityFact(biscuit.Fact{
		Predicate: biscuit.Predicate{Name: "issued_at", IDs: []biscuit.Term{biscuit.Integer(now.Unix())}},
	}); err != nil {
		return "", errs.Wrap(errs.Cryptographic, "add issued_at fact", err)
	}

	// Encoded as a retrievable fact rather than inferred heuristically at
	// read time (SPEC_FULL.md §9).
	if err := builder.AddAuthorityFact(biscuit.Fact{
		Predicate: biscuit.Predicate{Name: "expires_at", IDs: []biscuit.Term{biscuit.Integer(req.ExpiresAt.Unix())}},
	}); err != nil {
		return "", errs.Wrap(errs.Cryptographic, "add expires_at fact", err)
	}

	if err := builder.AddAuthorityFact(biscuit.Fact{
		Predicate: biscuit.Predicate{Name: "key_id", IDs: []biscuit.Term{biscuit.String(m.keyID)}},
	}); err != nil {
		return "", errs.Wrap(errs.Cryptographic, "add key_id fact", err)
	}

	for key, value := range req.TaskScope {
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", errs.Wrap(errs.ValidationError, fmt.Sprintf("encode task_scope[%s]", key), err)
		}
		if err := builder.AddAuthorityFact(biscuit.Fact{
			Predicate: biscuit.Predicate{
				Name: "task_scope",
				IDs:  []biscuit.Term{biscuit.String(key), biscuit.String(string(encoded))},
			},
		}); err != nil {
			return "", errs.Wrap(errs.Cryptographic, fmt.Sprintf("add task_scope[%s] fact", key), err)
		}
	}

	timeCheck, err := biscuit.MustParseCheck(
		fmt.Sprintf(`check if time($time), $time < %d`, req.ExpiresAt.Unix()))
	if err == nil {
		_ = builder.AddAuthorityCheck(timeCheck)
	} else {
		return "", errs.Wrap(errs.Cryptographic, "build time check", err)
	}

	resourceCheck, err := biscuit.MustParseCheck(
		fmt.Sprintf(`check if resource($res), $res.tenant_id == "%s"`, req.TenantID))
	if err == nil {
		_ = builder.AddAuthorityCheck(resourceCheck)
	} else {
		return "", errs.Wrap(errs.Cryptographic, "build resource check", err)
	}

	token, err := builder.Build()
	if err != nil {
		return "", errs.Wrap(errs.Cryptographic, "build biscuit token", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		return "", errs.Wrap(errs.Cryptographic, "serialize biscuit token", err)
	}

	return base64.URLEncoding.EncodeToString(serialized), nil
}

// Validate verifies every block's signature and checks, then extracts
// claims. A failed temporal check surfaces as Expired; any other failure
// surfaces as Invalid.
func (m *Manager) Validate(tokenString string) (*core.CapabilityClaims, error) {
	raw, err := base64.URLEncoding.DecodeString(tokenString)
	if err != nil {
		return nil, errs.Wrap(errs.TokenInvalid, "decode capability token", err)
	}

	unverified, err := biscuit.Unmarshal(raw)
	if err != nil {
		return nil, errs.Wrap(errs.TokenInvalid, "invalid token format", err)
	}

	token, err := unverified.Verify(m.pub)
	if err != nil {
		return nil, errs.Wrap(errs.TokenInvalid, "signature verification failed", err)
	}

	now := time.Now().UTC()
	verifier, err := token.Verifier()
	if err != nil {
		return nil, errs.Wrap(errs.TokenInvalid, "build verifier", err)
	}
	if err := verifier.AddFact(biscuit.Fact{
		Predicate: biscuit.Predicate{Name: "time", IDs: []biscuit.Term{biscuit.Integer(now.Unix())}},
	}); err != nil {
		return nil, errs.Wrap(errs.TokenInvalid, "add time fact", err)
	}
	if err := verifier.AddPolicy(biscuit.DefaultAllowPolicy); err != nil {
		return nil, errs.Wrap(errs.TokenInvalid, "add allow policy", err)
	}

	if err := verifier.Verify(); err != nil {
		if isTemporalFailure(err) {
			return nil, errs.Wrap(errs.TokenExpired, "capability token expired", err)
		}
		return nil, errs.Wrap(errs.TokenInvalid, "capability token check failed", err)
	}

	return extractClaims(verifier)
}

// Attenuate appends a new block containing only restricting checks — never
// facts — so the returned token is never more powerful than token.
func (m *Manager) Attenuate(tokenString string, extraChecks []string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(tokenString)
	if err != nil {
		return "", errs.Wrap(errs.TokenInvalid, "decode capability token", err)
	}
	unverified, err := biscuit.Unmarshal(raw)
	if err != nil {
		return "", errs.Wrap(errs.TokenInvalid, "invalid token format", err)
	}
	token, err := unverified.Verify(m.pub)
	if err != nil {
		return "", errs.Wrap(errs.TokenInvalid, "signature verification failed", err)
	}

	block := token.CreateBlock()
	for _, c := range extraChecks {
		check, err := biscuit.MustParseCheck(c)
		if err != nil {
			return "", errs.Wrap(errs.ValidationError, fmt.Sprintf("parse check %q", c), err)
		}
		if err := block.AddCheck(check); err != nil {
			return "", errs.Wrap(errs.Cryptographic, "add check to block", err)
		}
	}

	attenuated, err := token.Append(rand.Reader, block.Build())
	if err != nil {
		return "", errs.Wrap(errs.Cryptographic, "append attenuation block", err)
	}
	serialized, err := attenuated.Serialize()
	if err != nil {
		return "", errs.Wrap(errs.Cryptographic, "serialize attenuated token", err)
	}
	return base64.URLEncoding.EncodeToString(serialized), nil
}

func privateKeyFromHex(s string) (biscuit.PrivateKey, error) {
	return biscuit.PrivateKeyFromHex(s)
}

func isTemporalFailure(err error) bool {
	_, ok := err.(biscuit.ErrExpiredToken)
	return ok
}

func extractClaims(v biscuit.Verifier) (*core.CapabilityClaims, error) {
	var claims core.CapabilityClaims
	claims.TaskScope = map[string]any{}

	var agentRows []struct {
		AgentID  string `biscuit:"agent_id"`
		TenantID string `biscuit:"tenant_id"`
		ParentID string `biscuit:"parent_id"`
		TaskID   string `biscuit:"task_id"`
	}
	if err := v.Query(`data($agent_id, $tenant_id, $parent_id, $task_id) <- agent($agent_id, $tenant_id, $parent_id, $task_id)`, &agentRows); err == nil && len(agentRows) > 0 {
		claims.AgentID = agentRows[0].AgentID
		claims.TenantID = agentRows[0].TenantID
		claims.ParentID = agentRows[0].ParentID
		claims.TaskID = agentRows[0].TaskID
	}

	var issuedRows []struct {
		IssuedAt int64 `biscuit:"issued_at"`
	}
	if err := v.Query(`data($issued_at) <- issued_at($issued_at)`, &issuedRows); err == nil && len(issuedRows) > 0 {
		claims.IssuedAt = issuedRows[0].IssuedAt
	}

	var expiresRows []struct {
		ExpiresAt int64 `biscuit:"expires_at"`
	}
	if err := v.Query(`data($expires_at) <- expires_at($expires_at)`, &expiresRows); err == nil && len(expiresRows) > 0 {
		claims.ExpiresAt = expiresRows[0].ExpiresAt
	}

	var keyRows []struct {
		KeyID string `biscuit:"key_id"`
	}
	if err := v.Query(`data($key_id) <- key_id($key_id)`, &keyRows); err == nil && len(keyRows) > 0 {
		claims.KeyID = keyRows[0].KeyID
	}

	var scopeRows []struct {
		Key   string `biscuit:"key"`
		Value string `biscuit:"value"`
	}
	if err := v.Query(`data($key, $value) <- task_scope($key, $value)`, &scopeRows); err == nil {
		for _, row := range scopeRows {
			var decoded any
			if json.Unmarshal([]byte(row.Value), &decoded) == nil {
				claims.TaskScope[row.Key] = decoded
			}
		}
	}

	if claims.AgentID == "" {
		return nil, errs.New(errs.TokenInvalid, "capability token carries no agent fact")
	}
	return &claims, nil
}
