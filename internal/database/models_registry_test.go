package database

import (
	"testing"

	modelspkg "vibesync/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesAuditTables(t *testing.T) {
	var alerts, audits bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *modelspkg.AlertDelivery:
			alerts = true
		case *modelspkg.ModerationAudit:
			audits = true
		}
	}
	require.True(t, alerts, "PersistentModels should include AlertDelivery")
	require.True(t, audits, "PersistentModels should include ModerationAudit")
}
