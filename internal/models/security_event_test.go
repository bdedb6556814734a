package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/gearshare/backend/internal/chain"
)

func TestSecurityEvent_ParticipatesInChain(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := SecurityEvent{UUID: "e1", UserUUID: "u", EventType: "login", RiskLevel: "low", CreatedAt: ts}
	first.Digest = chain.Hash(chain.Genesis, first.ChainFields()...)
	second := SecurityEvent{UUID: "e2", UserUUID: "u", EventType: "suspicious_activity", RiskLevel: "medium", CreatedAt: ts.Add(time.Second), PrevDigest: first.Digest}
	second.Digest = chain.Hash(second.PrevDigest, second.ChainFields()...)

	require.NoError(t, chain.Verify([]chain.Link{first, second}))

	second.RiskLevel = "low"
	assert.ErrorIs(t, chain.Verify([]chain.Link{first, second}), chain.ErrBroken)
}
