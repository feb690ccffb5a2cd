package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Backend identifies one of the two data stores.
type Backend string

const (
	BackendRelational Backend = "relational"
	BackendDocument   Backend = "document"
)

// ParseBackend accepts the backend names used by the CLI and HTTP layer.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "relational", "postgres", "postgresql", "sql":
		return BackendRelational, nil
	case "document", "mongo", "mongodb":
		return BackendDocument, nil
	}
	return "", Validationf("unknown backend %q", s)
}

// Target selects which backends a write or migration applies to.
type Target uint8

const (
	TargetRelational Target = 1 << iota
	TargetDocument

	TargetBoth = TargetRelational | TargetDocument
)

// ParseTarget parses "relational", "document" or "both".
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both", "all":
		return TargetBoth, nil
	case "relational", "postgres", "postgresql", "sql":
		return TargetRelational, nil
	case "document", "mongo", "mongodb":
		return TargetDocument, nil
	}
	return 0, Validationf("unknown target %q", s)
}

// Has reports whether the target includes the backend.
func (t Target) Has(b Backend) bool {
	switch b {
	case BackendRelational:
		return t&TargetRelational != 0
	case BackendDocument:
		return t&TargetDocument != 0
	}
	return false
}

// Backends returns the backends in the target, relational first.
func (t Target) Backends() []Backend {
	var out []Backend
	if t.Has(BackendRelational) {
		out = append(out, BackendRelational)
	}
	if t.Has(BackendDocument) {
		out = append(out, BackendDocument)
	}
	return out
}

// Primary returns the system-of-record backend for a target: relational when
// present, otherwise document.
func (t Target) Primary() Backend {
	if t.Has(BackendRelational) {
		return BackendRelational
	}
	return BackendDocument
}

func (t Target) String() string {
	switch t {
	case TargetBoth:
		return "both"
	case TargetRelational:
		return string(BackendRelational)
	case TargetDocument:
		return string(BackendDocument)
	}
	return "none"
}

// DefaultTenantID is the reserved tenant whose data lives in the global
// databases rather than a tenant_<id> database.
const DefaultTenantID int64 = 1

// Scope addresses either the global databases or one tenant's databases.
// The zero value is the global scope.
type Scope struct {
	TenantID int64
}

// Global is the shared scope.
var Global = Scope{}

// ForTenant returns the scope for tenantID. Non-positive ids map to Global.
func ForTenant(tenantID int64) Scope {
	if tenantID <= 0 {
		return Global
	}
	return Scope{TenantID: tenantID}
}

// UserScope applies the user routing rule: tenant 0 and the reserved default
// tenant 1 both resolve to the global scope.
func UserScope(tenantID int64) Scope {
	if tenantID <= DefaultTenantID {
		return Global
	}
	return Scope{TenantID: tenantID}
}

// IsGlobal reports whether the scope addresses the shared databases.
func (s Scope) IsGlobal() bool { return s.TenantID <= 0 }

// DatabaseName returns tenant_<id> for tenant scopes and base otherwise.
func (s Scope) DatabaseName(base string) string {
	if s.IsGlobal() {
		return base
	}
	return TenantDatabaseName(s.TenantID)
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "tenant:" + strconv.FormatInt(s.TenantID, 10)
}

// TenantDatabaseName is the per-tenant database name used by the connection
// registry.
func TenantDatabaseName(tenantID int64) string {
	return fmt.Sprintf("tenant_%d", tenantID)
}
