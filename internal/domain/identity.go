package domain

// IdentityKind differentiates agents from clients.
type IdentityKind string

const (
	IdentityAgent  IdentityKind = "agent"
	IdentityClient IdentityKind = "client"
)

// Valid reports whether k is a known identity kind.
func (k IdentityKind) Valid() bool {
	return k == IdentityAgent || k == IdentityClient
}

// Role enumerates the roles a principal can hold.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleAgent      Role = "agent"
	RoleClient     Role = "client"
)

// Permissions is the capability set attached to a connection.
type Permissions struct {
	CanView           bool `json:"can_view"`
	CanSend           bool `json:"can_send"`
	CanAccept         bool `json:"can_accept"`
	CanTransfer       bool `json:"can_transfer"`
	CanClose          bool `json:"can_close"`
	AllDepartments    bool `json:"all_departments"`
	MessagesPerMinute int  `json:"messages_per_minute"`
}

// Principal is the authenticated projection of an identity held for one connection.
type Principal struct {
	ID          int64
	Kind        IdentityKind
	Role        Role
	DisplayName string
	AvatarURL   string
	Departments []int64
	Active      bool
	Permissions Permissions
}

// IsAgent reports whether the principal is an agent.
func (p *Principal) IsAgent() bool {
	return p != nil && p.Kind == IdentityAgent
}

// IsClient reports whether the principal is a client.
func (p *Principal) IsClient() bool {
	return p != nil && p.Kind == IdentityClient
}

// InDepartment reports membership in the given department.
func (p *Principal) InDepartment(departmentID int64) bool {
	if p == nil {
		return false
	}
	for _, id := range p.Departments {
		if id == departmentID {
			return true
		}
	}
	return false
}

// CoversDepartment reports whether the principal sees work routed to departmentID.
func (p *Principal) CoversDepartment(departmentID int64) bool {
	if !p.IsAgent() {
		return false
	}
	return p.Permissions.AllDepartments || p.InDepartment(departmentID)
}
