package seed

import (
	"context"
	"testing"

	"swarg/internal/models"
	"swarg/internal/testutil"
	"swarg/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_UserIsValid(t *testing.T) {
	f := NewFactory(42)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		in := f.User()
		require.NoError(t, validation.ValidateUsername(in.Username), in.Username)
		assert.False(t, seen[in.Username], "duplicate username %s", in.Username)
		seen[in.Username] = true
		assert.NotEmpty(t, in.DisplayName)
	}
}

func TestFactory_MessagePayloadsAreValid(t *testing.T) {
	f := NewFactory(7)
	for i := 0; i < 200; i++ {
		in := f.Message(1, models.UserReceiver(2))
		err := validation.ValidatePayload(validation.Payload{
			Type:     in.Type,
			Content:  in.Content,
			Media:    in.Media,
			Location: in.Location,
			Contact:  in.Contact,
		})
		require.NoError(t, err, "%+v", in)
	}
}

func TestFactory_Pick(t *testing.T) {
	f := NewFactory(1)
	ids := []uint{1, 2, 3, 4, 5}

	picked := f.Pick(ids, 3, 2)
	assert.Len(t, picked, 3)
	assert.NotContains(t, picked, uint(2))

	assert.Len(t, f.Pick(ids, 10, 1), 4)
}

func TestSeeder_Run(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := NewSeeder(db)
	ctx := context.Background()

	opts := Options{
		NumUsers:                6,
		NumGroups:               2,
		GroupSize:               3,
		ContactsPerUser:         2,
		MessagesPerConversation: 3,
		ReadPercent:             50,
		Seed:                    99,
	}
	res, err := s.Run(ctx, opts)
	require.NoError(t, err)

	assert.Len(t, res.Users, 6)
	assert.Len(t, res.Groups, 2)
	assert.Positive(t, res.Messages)

	var stored int64
	require.NoError(t, db.Model(&models.Message{}).Count(&stored).Error)
	assert.Equal(t, int64(res.Messages), stored)

	for _, g := range res.Groups {
		assert.Len(t, g.Members, 3)
	}

	require.NoError(t, s.ClearAll(ctx))
	require.NoError(t, db.Model(&models.Message{}).Count(&stored).Error)
	assert.Zero(t, stored)
	var users int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	assert.Zero(t, users)
}
