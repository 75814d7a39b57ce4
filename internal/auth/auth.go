package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Roles checked by the HTTP API.
const (
	RoleAsker         = "asker"
	RoleCatalogReader = "catalog_reader"
	RoleOpsAdmin      = "ops_admin"
)

var knownRoles = []string{RoleAsker, RoleCatalogReader, RoleOpsAdmin}

// Identity is the caller behind an API key.
type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator resolves keys from a configured list of
// "key:subject:role|role" entries separated by commas. Keys are held only as
// SHA-256 digests.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	if strings.TrimSpace(spec) == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		key, identity, err := parseKeyEntry(entry)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(key))
		if _, dup := validator.keys[digest]; dup {
			return nil, fmt.Errorf("static key for subject %q is configured twice", identity.Subject)
		}
		validator.keys[digest] = identity
	}
	return validator, nil
}

func parseKeyEntry(entry string) (string, Identity, error) {
	fields := strings.Split(strings.TrimSpace(entry), ":")
	if len(fields) != 3 {
		return "", Identity{}, fmt.Errorf("invalid static key entry: expected key:subject:role|role, got %d field(s)", len(fields))
	}
	key, subject := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
	if key == "" || subject == "" {
		return "", Identity{}, fmt.Errorf("invalid static key entry for subject %q: empty key or subject", subject)
	}

	seen := map[string]bool{}
	roles := make([]string, 0, len(knownRoles))
	for _, role := range strings.Split(fields[2], "|") {
		role = strings.TrimSpace(role)
		if role == "" || seen[role] {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return "", Identity{}, fmt.Errorf("invalid static key entry for subject %q: unknown role %q", subject, role)
		}
		seen[role] = true
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("invalid static key entry for subject %q: at least one role is required", subject)
	}
	sort.Strings(roles)
	return key, Identity{Subject: subject, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}
