package orchestrator

import "fmt"

// Role is the engine's internal, canonical agent specialization. Only these
// values are ever stored or compared inside the orchestrator; the short
// wire forms exchanged with the tool-call layer are translated at the
// boundary by WireRole/RoleFromWire and never leak past it.
type Role string

const (
	RoleArchitect             Role = "architect"
	RoleFrontend              Role = "frontend"
	RoleCodeExplorer          Role = "code-explorer"
	RoleTechnicalWriter       Role = "technical-writer"
	RoleMultimodalAnalyzer    Role = "multimodal-analyzer"
	RoleDocumentationLibrary  Role = "documentation-library"
)

// wireToCanonical maps the externally exposed short role identifiers (§6)
// to the engine's canonical Role values.
var wireToCanonical = map[string]Role{
	"arch":   RoleArchitect,
	"canvas": RoleFrontend,
	"index":  RoleCodeExplorer,
	"quill":  RoleTechnicalWriter,
	"lens":   RoleMultimodalAnalyzer,
	"scout":  RoleDocumentationLibrary,
}

var canonicalToWire = func() map[Role]string {
	m := make(map[Role]string, len(wireToCanonical))
	for wire, role := range wireToCanonical {
		m[role] = wire
	}
	return m
}()

// RoleFromWire translates an external short role identifier into its
// canonical internal Role. It is the only place in the engine that accepts
// the wire form.
func RoleFromWire(wire string) (Role, error) {
	role, ok := wireToCanonical[wire]
	if !ok {
		return "", fmt.Errorf("unknown wire role identifier %q", wire)
	}
	return role, nil
}

// WireRole translates a canonical internal Role back into its external
// short identifier, for responses crossing the tool-call boundary.
func WireRole(role Role) (string, error) {
	wire, ok := canonicalToWire[role]
	if !ok {
		return "", fmt.Errorf("unknown canonical role %q", role)
	}
	return wire, nil
}

// ValidRole reports whether role is one of the engine's canonical roles.
func ValidRole(role Role) bool {
	_, ok := canonicalToWire[role]
	return ok
}
