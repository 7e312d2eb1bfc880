package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heavyforge/heavyforge/internal/protocol"
)

func TestNegotiateCapabilitiesIntersectsAndAddsMandatory(t *testing.T) {
	client := map[string]bool{
		"tools":     true,
		"resources": false,
		"prompts":   true,
		"unknown":   true,
	}
	got := protocol.NegotiateCapabilities(client)

	assert.True(t, got["tools"], "mandatory feature always present")
	assert.True(t, got["prompts"], "client-declared, server-supported")
	assert.False(t, got["resources"], "client declared false")
	assert.False(t, got["unknown"], "server doesn't support it")
}

func TestNegotiateCapabilitiesAlwaysIncludesMandatoryEvenWhenClientOmits(t *testing.T) {
	got := protocol.NegotiateCapabilities(map[string]bool{})
	assert.True(t, got["tools"])
	assert.Len(t, got, 1)
}

func TestFrameIsTerminal(t *testing.T) {
	assert.False(t, protocol.Frame{Kind: protocol.FrameProgress}.IsTerminal())
	assert.False(t, protocol.Frame{Kind: protocol.FramePartial}.IsTerminal())
	assert.True(t, protocol.Frame{Kind: protocol.FrameFinal}.IsTerminal())
	assert.True(t, protocol.Frame{Kind: protocol.FrameError}.IsTerminal())
}

func TestIsKnownA2AKind(t *testing.T) {
	assert.True(t, protocol.IsKnownA2AKind("handshake"))
	assert.True(t, protocol.IsKnownA2AKind("ping"))
	assert.False(t, protocol.IsKnownA2AKind("teleport"))
	assert.False(t, protocol.IsKnownA2AKind(""))
}
