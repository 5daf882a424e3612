package database

import (
	"testing"

	modelspkg "swarg/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesMessageTables(t *testing.T) {
	var message, reaction, deletion bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *modelspkg.Message:
			message = true
		case *modelspkg.MessageReaction:
			reaction = true
		case *modelspkg.MessageDeletion:
			deletion = true
		}
	}
	require.True(t, message, "PersistentModels should include Message")
	require.True(t, reaction, "PersistentModels should include MessageReaction")
	require.True(t, deletion, "PersistentModels should include MessageDeletion")
}
