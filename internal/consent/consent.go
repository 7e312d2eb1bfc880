// Package consent implements the access-check decision contract: given a
// subject, a resource, the permissions an operation requires, the grants
// currently active for that subject, and any auto-approval policies, it
// returns ALLOW or DENY with a reason. Per spec.md §3 this is a policy
// layer stub — only the decision contract, not a CRUD surface for
// managing grants or policies — grounded on the teacher's pkg/auth
// RequireRole/RequireTenant pattern (a claim's declared set checked
// against an allow-list), generalized from role/tenant membership to
// arbitrary required-permission subset checks.
package consent

import (
	"time"
)

// Grant is one active consent grant for a subject over a resource.
type Grant struct {
	Subject      string
	ResourceType string
	ResourceName string
	Permissions  []string
	ExpiresAt    *time.Time
}

// Policy auto-approves operations matching a resource type/name pattern
// (exact string match; "*" matches any name) without requiring a grant.
type Policy struct {
	ResourceType string
	ResourceName string // "*" matches any name for ResourceType
	Permissions  []string
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	Reason  string
	// Source names which grant or policy produced an ALLOW, for audit.
	Source string
}

// Check evaluates whether subject may exercise required permissions on
// (resourceType, resourceName), given active grants and auto-approval
// policies. now is injected so callers with an explicit clock can avoid
// wall-clock reliance; pass time.Now() otherwise.
func Check(subject, resourceType, resourceName string, required []string, grants []Grant, autoApprovePolicies []Policy, now time.Time) Decision {
	if len(required) == 0 {
		return Decision{Allowed: true, Reason: "no permissions required"}
	}

	for _, p := range autoApprovePolicies {
		if p.ResourceType != resourceType {
			continue
		}
		if p.ResourceName != "*" && p.ResourceName != resourceName {
			continue
		}
		if coversAll(p.Permissions, required) {
			return Decision{Allowed: true, Reason: "auto-approved by policy", Source: "policy:" + p.ResourceType + ":" + p.ResourceName}
		}
	}

	for _, g := range grants {
		if g.Subject != subject || g.ResourceType != resourceType || g.ResourceName != resourceName {
			continue
		}
		if g.ExpiresAt != nil && now.After(*g.ExpiresAt) {
			continue
		}
		if coversAll(g.Permissions, required) {
			return Decision{Allowed: true, Reason: "granted", Source: "grant"}
		}
	}

	return Decision{Allowed: false, Reason: "no active grant or policy covers the required permissions"}
}

// coversAll reports whether have is a superset of want.
func coversAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}
