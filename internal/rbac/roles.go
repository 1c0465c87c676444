package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleOperator   = "operator" // runs dispatch, inspects touch runs
	RoleFinance    = "finance"  // ledger intake, statement finalization
	RoleSuperAdmin = "super_admin"
	RoleBillingBot = "billing_bot" // hidden machine role for retried billing jobs
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleBillingBot }
