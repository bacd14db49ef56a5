package auth

// Capability is a staff action gated by a minimum role level.
type Capability string

const (
	CapViewLinks      Capability = "link.view"
	CapViewPrincipals Capability = "principal.view"
	CapShareLink      Capability = "link.share"
	CapRevokeLink     Capability = "link.revoke"
	CapRevokeSession  Capability = "session.revoke"
	CapCloseResource  Capability = "resource.close"
	CapReadAudit      Capability = "audit.read"
)

// DefaultCapabilities maps each capability to the lowest role allowed to use it.
var DefaultCapabilities = map[Capability]Role{
	CapViewLinks:      RoleTechnician,
	CapViewPrincipals: RoleManager,
	CapShareLink:      RoleManager,
	CapRevokeLink:     RoleManager,
	CapRevokeSession:  RoleManager,
	CapCloseResource:  RoleDirector,
	CapReadAudit:      RoleDirector,
}
