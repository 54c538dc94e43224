// Package approval implements the Approval Handler (spec.md §4.K):
// HMAC-signed pending-approval records with key rotation, a two-phase
// claim that serializes the approve/reject race, and a TOCTOU
// re-evaluation of the original action before executing.
package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key is one named HMAC signing/verification key.
type Key struct {
	ID     string // "kid"
	Secret []byte
}

// KeySet orders keys with the first as current (used to sign new
// approvals); all keys are tried for verification when no kid is given,
// so a rotation can complete without invalidating in-flight approvals
// signed under the previous key.
type KeySet struct {
	keys []Key
}

func NewKeySet(keys ...Key) *KeySet {
	return &KeySet{keys: keys}
}

// Current is the signing key for new approvals.
func (ks *KeySet) Current() (Key, bool) {
	if len(ks.keys) == 0 {
		return Key{}, false
	}
	return ks.keys[0], true
}

func (ks *KeySet) byID(kid string) (Key, bool) {
	for _, k := range ks.keys {
		if k.ID == kid {
			return k, true
		}
	}
	return Key{}, false
}

// signMessage builds the length-prefixed message defined in spec.md §4.K,
// which prevents a canonicalization attack where field boundaries could
// otherwise be shifted (e.g. ns="a:b", tenant="c" colliding with
// ns="a", tenant="b:c").
func signMessage(namespace, tenant, id string, expiresAtUnix int64) string {
	return fmt.Sprintf("len(%d):%s\nlen(%d):%s\nlen(%d):%s\n%d",
		len(namespace), namespace, len(tenant), tenant, len(id), id, expiresAtUnix)
}

func sign(key Key, namespace, tenant, id string, expiresAtUnix int64) string {
	mac := hmac.New(sha256.New, key.Secret)
	mac.Write([]byte(signMessage(namespace, tenant, id, expiresAtUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign produces a hex HMAC-SHA256 signature using the current key, along
// with that key's id for inclusion in the URL.
func (ks *KeySet) Sign(namespace, tenant, id string, expiresAtUnix int64) (sig, kid string, err error) {
	key, ok := ks.Current()
	if !ok {
		return "", "", errNoSigningKey
	}
	return sign(key, namespace, tenant, id, expiresAtUnix), key.ID, nil
}

// Verify checks sig against namespace/tenant/id/expiresAtUnix. If kid is
// non-empty, only that key is tried; otherwise every key is tried in
// order (oldest-compatible-first is irrelevant since comparison is
// constant-time regardless of which key matches).
func (ks *KeySet) Verify(namespace, tenant, id string, expiresAtUnix int64, sig, kid string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	check := func(k Key) bool {
		got, err := hex.DecodeString(sign(k, namespace, tenant, id, expiresAtUnix))
		if err != nil {
			return false
		}
		return hmac.Equal(got, want)
	}
	if kid != "" {
		k, ok := ks.byID(kid)
		if !ok {
			return false
		}
		return check(k)
	}
	for _, k := range ks.keys {
		if check(k) {
			return true
		}
	}
	return false
}
