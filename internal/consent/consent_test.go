package consent_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/heavyforge/heavyforge/internal/consent"
)

func TestCheck_NoPermissionsRequired(t *testing.T) {
	d := consent.Check("alice", "dataset", "sales", nil, nil, nil, time.Now())
	assert.True(t, d.Allowed)
}

func TestCheck_GrantCoversRequired(t *testing.T) {
	grants := []consent.Grant{
		{Subject: "alice", ResourceType: "dataset", ResourceName: "sales", Permissions: []string{"read", "write"}},
	}
	d := consent.Check("alice", "dataset", "sales", []string{"read"}, grants, nil, time.Now())
	assert.True(t, d.Allowed)
	assert.Equal(t, "grant", d.Source)
}

func TestCheck_GrantMissingPermission(t *testing.T) {
	grants := []consent.Grant{
		{Subject: "alice", ResourceType: "dataset", ResourceName: "sales", Permissions: []string{"read"}},
	}
	d := consent.Check("alice", "dataset", "sales", []string{"read", "write"}, grants, nil, time.Now())
	assert.False(t, d.Allowed)
}

func TestCheck_ExpiredGrantDenied(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	grants := []consent.Grant{
		{Subject: "alice", ResourceType: "dataset", ResourceName: "sales", Permissions: []string{"read"}, ExpiresAt: &past},
	}
	d := consent.Check("alice", "dataset", "sales", []string{"read"}, grants, nil, time.Now())
	assert.False(t, d.Allowed)
}

func TestCheck_WrongSubjectDenied(t *testing.T) {
	grants := []consent.Grant{
		{Subject: "bob", ResourceType: "dataset", ResourceName: "sales", Permissions: []string{"read"}},
	}
	d := consent.Check("alice", "dataset", "sales", []string{"read"}, grants, nil, time.Now())
	assert.False(t, d.Allowed)
}

func TestCheck_AutoApprovePolicyWildcardName(t *testing.T) {
	policies := []consent.Policy{
		{ResourceType: "public_doc", ResourceName: "*", Permissions: []string{"read"}},
	}
	d := consent.Check("anyone", "public_doc", "readme", []string{"read"}, nil, policies, time.Now())
	assert.True(t, d.Allowed)
	assert.Contains(t, d.Source, "policy:")
}

func TestCheck_NoGrantOrPolicyDenied(t *testing.T) {
	d := consent.Check("alice", "dataset", "sales", []string{"read"}, nil, nil, time.Now())
	assert.False(t, d.Allowed)
	assert.NotEmpty(t, d.Reason)
}
