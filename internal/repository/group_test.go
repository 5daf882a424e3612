package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"swarg/internal/models"
	"swarg/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRepository_Membership(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()

	admin := testutil.CreateUser(t, db, "admin")
	member := testutil.CreateUser(t, db, "member")
	outsider := testutil.CreateUser(t, db, "outsider")
	group := testutil.CreateGroup(t, db, admin.ID, member.ID)

	tests := []struct {
		name     string
		userID   uint
		isMember bool
		role     models.GroupRole
	}{
		{"Admin", admin.ID, true, models.RoleAdmin},
		{"Member", member.ID, true, models.RoleMember},
		{"Outsider", outsider.ID, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := repo.Membership(ctx, group.ID, tt.userID)
			require.NoError(t, err)
			assert.True(t, m.GroupActive)
			assert.Equal(t, models.PolicyAll, m.SendMessages)
			assert.Equal(t, tt.isMember, m.IsMember)
			assert.Equal(t, tt.role, m.Role)
		})
	}

	t.Run("Unknown group", func(t *testing.T) {
		_, err := repo.Membership(ctx, 9999, admin.ID)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}

func TestGroupRepository_Membership_SingleStatement(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGroupRepository(db)

	rows := sqlmock.NewRows([]string{"group_id", "is_active", "send_messages", "edit_group_info", "member_id", "role"}).
		AddRow(3, true, "admins", "admins", 7, "member")
	mock.ExpectQuery(regexp.QuoteMeta(`LEFT JOIN group_members ON group_members.group_id = groups.id AND group_members.user_id = $1 WHERE groups.id = $2`)).
		WithArgs(7, 3, 1).
		WillReturnRows(rows)

	m, err := repo.Membership(context.Background(), 3, 7)
	require.NoError(t, err)
	assert.True(t, m.IsMember)
	assert.Equal(t, models.PolicyAdmins, m.SendMessages)
	assert.Equal(t, models.RoleMember, m.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepository_MemberLifecycle(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()

	admin := testutil.CreateUser(t, db, "admin")
	joiner := testutil.CreateUser(t, db, "joiner")
	group := testutil.CreateGroup(t, db, admin.ID)

	member := &models.GroupMember{GroupID: group.ID, UserID: joiner.ID, Role: models.RoleMember, AddedBy: admin.ID, JoinedAt: time.Now().UTC()}
	require.NoError(t, repo.AddMember(ctx, member))

	dup := *member
	assert.ErrorIs(t, repo.AddMember(ctx, &dup), ErrDuplicate)

	ids, err := repo.MemberIDs(ctx, group.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{admin.ID, joiner.ID}, ids)

	updated, err := repo.UpdateRole(ctx, group.ID, joiner.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, updated)

	admins, err := repo.CountAdmins(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), admins)

	removed, err := repo.RemoveMember(ctx, group.ID, joiner.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.RemoveMember(ctx, group.ID, joiner.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	groups, err := repo.ListForUser(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, group.ID, groups[0].ID)

	groups, err = repo.ListForUser(ctx, joiner.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
