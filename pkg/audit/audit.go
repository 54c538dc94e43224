// Package audit implements the Audit Store contract and record shape of
// spec.md §4.H step 8: a fire-and-forget record of every non-dry-run
// dispatch, replayable and (optionally) hash-chained for tamper evidence.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// System-prefixed metadata keys carried for replay, per spec.md §4.H.
const (
	MetaDedupKey   = "__dedup_key"
	MetaFingerprint = "__fingerprint"
	MetaStatus     = "__status"
	MetaStartsAt   = "__starts_at"
	MetaEndsAt     = "__ends_at"
)

// Record is one audit entry.
type Record struct {
	ID             string
	ActionID       string
	Namespace      string
	Tenant         string
	Provider       string
	ActionType     string
	VerdictTag     string
	MatchedRule    string
	OutcomeTag     string
	OutcomeDetails map[string]interface{}
	Metadata       map[string]string
	Payload        map[string]interface{} // only set when Store.StorePayload() is true
	Caller         string
	DispatchedAt   time.Time
	CompletedAt    time.Time
	DurationMs     int64
	TTLSeconds     int64

	// PrevHash/Hash form the optional tamper-evident chain (spec.md §6
	// "POST /v1/audit/verify"); computed by Store implementations that
	// support it, left empty otherwise.
	PrevHash string
	Hash     string
}

// ComputeHash returns the record's content hash chained onto prevHash,
// for Store implementations that maintain a hash chain.
func ComputeHash(r Record, prevHash string) string {
	body, _ := json.Marshal(struct {
		ActionID, VerdictTag, OutcomeTag, PrevHash string
		DispatchedAt                               time.Time
	}{r.ActionID, r.VerdictTag, r.OutcomeTag, prevHash, r.DispatchedAt})
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Filter narrows a List query.
type Filter struct {
	Namespace  string
	Tenant     string
	Provider   string
	ActionType string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Store is the audit backend contract (spec.md §9 "dynamic dispatch over
// traits"). Implementations decide their own storage and whether they
// maintain a verifiable hash chain.
type Store interface {
	Append(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, bool, error)
	List(ctx context.Context, f Filter) ([]Record, error)

	// StorePayload reports whether Append should be given a populated
	// Record.Payload (spec.md §4.H: "only if audit_store_payload=true").
	StorePayload() bool

	// VerifyChain checks hash-chain integrity across the store's records,
	// returning the id of the first break, if any.
	VerifyChain(ctx context.Context) (ok bool, brokenAt string, err error)
}
