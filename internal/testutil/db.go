// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"swarg/internal/database"
	"swarg/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Uint64

// NewTestDB opens a migrated in-memory SQLite database. The pool is pinned to
// one connection because every new connection would see an empty database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUser inserts a user with a unique username and swarg number.
func CreateUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()

	n := seq.Add(1)
	user := &models.User{
		Username:    fmt.Sprintf("%s_%d", name, n),
		DisplayName: name,
		SwargNumber: fmt.Sprintf("%010d", 1000000000+n),
		Privacy: models.PrivacySettings{
			LastSeen: models.PrivacyEveryone,
			Status:   models.PrivacyEveryone,
		},
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateGroup inserts an active group with admin as its only admin and the
// remaining users as plain members.
func CreateGroup(t *testing.T, db *gorm.DB, admin uint, members ...uint) *models.Group {
	t.Helper()

	now := time.Now().UTC()
	group := &models.Group{
		Name:         fmt.Sprintf("group %d", seq.Add(1)),
		CreatedBy:    admin,
		Settings:     models.GroupSettings{SendMessages: models.PolicyAll, EditGroupInfo: models.PolicyAdmins},
		LastActivity: now,
		IsActive:     true,
		Members:      []models.GroupMember{{UserID: admin, Role: models.RoleAdmin, JoinedAt: now}},
	}
	for _, id := range members {
		group.Members = append(group.Members, models.GroupMember{UserID: id, Role: models.RoleMember, AddedBy: admin, JoinedAt: now})
	}
	require.NoError(t, db.Create(group).Error)
	return group
}
