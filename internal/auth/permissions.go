package auth

// Wildcard grants every permission. Only the system context carries it.
const Wildcard = "*"

// RoleSystem marks background jobs and internal callers.
const RoleSystem = "system"

const (
	PermIntegrityVerify = "integrity.verify"
	PermQuotaRead       = "quota.read"
	PermChainAppend     = "chain.append"
)

// Permission is a catalog entry for a grantable action.
type Permission struct {
	Key         string
	Description string
}

var BuiltinPermissions = []Permission{
	{Key: PermIntegrityVerify, Description: "Verify a tenant's hash chain"},
	{Key: PermQuotaRead, Description: "Read quota usage"},
	{Key: PermChainAppend, Description: "Append entries to a tenant's hash chain"},
}
