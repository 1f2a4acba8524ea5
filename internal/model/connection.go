package model

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"
)

type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionError   ConnectionStatus = "error"
	ConnectionRevoked ConnectionStatus = "revoked"
)

// Credentials is the opaque per-connection credential payload. Keys are
// marketplace-specific ("api_key", "seller_id", "refresh_token", ...); the
// engine never interprets them, it only hands them to the adapter.
type Credentials map[string]string

// Fingerprint returns a fast, non-cryptographic digest of the payload used
// as the adapter cache key. Good enough for process-local de-duplication,
// never a durable or security-relevant identity.
func (c Credentials) Fingerprint() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(c[k]))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// MarketplaceConnection is a tenant-scoped credential bundle for one
// marketplace. It never holds a live adapter reference; the factory owns
// those. A connection marked error stays excluded from scheduling until the
// merchant re-enters credentials.
type MarketplaceConnection struct {
	ID             string           `json:"id" db:"id"`
	OrganizationID string           `json:"organization_id" db:"organization_id"`
	MarketplaceID  string           `json:"marketplace_id" db:"marketplace_id"`
	Credentials    Credentials      `json:"-" db:"-"`
	Status         ConnectionStatus `json:"status" db:"status"`
	LastVerifiedAt time.Time        `json:"last_verified_at" db:"last_verified_at"`
}
