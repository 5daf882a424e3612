package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"swarg/internal/models"
	"swarg/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestUserRepository_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	tests := []struct {
		name         string
		userID       uint
		mockBehavior func()
		expectedUser *models.User
		expectedCode string
	}{
		{
			name:   "Success",
			userID: 1,
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "username", "swarg_number"}).
					AddRow(1, "testuser", "1234567890")
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1 ORDER BY "users"."id" LIMIT $2`)).
					WithArgs(1, 1).
					WillReturnRows(rows)
			},
			expectedUser: &models.User{ID: 1, Username: "testuser", SwargNumber: "1234567890"},
		},
		{
			name:   "Not Found",
			userID: 99,
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1`)).
					WithArgs(99, 1).
					WillReturnError(gorm.ErrRecordNotFound)
			},
			expectedCode: models.CodeNotFound,
		},
		{
			name:   "Database error",
			userID: 1,
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1`)).
					WithArgs(1, 1).
					WillReturnError(errors.New("connection timeout"))
			},
			expectedCode: models.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			user, err := repo.GetByID(ctx, tt.userID)

			if tt.expectedCode != "" {
				assert.True(t, models.IsCode(err, tt.expectedCode), "got %v", err)
				assert.Nil(t, user)
			} else if assert.NotNil(t, user) {
				assert.Equal(t, tt.expectedUser.Username, user.Username)
				assert.Equal(t, tt.expectedUser.SwargNumber, user.SwargNumber)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_GetBySwargNumber_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE swarg_number = $1`)).
		WithArgs("5550001111", 1).
		WillReturnError(gorm.ErrRecordNotFound)

	user, err := repo.GetBySwargNumber(context.Background(), "5550001111")
	assert.NoError(t, err)
	assert.Nil(t, user)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_UniqueViolation(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_users_swarg_number"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.User{Username: "dup", SwargNumber: "1234567890"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_BlocksAndContacts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	t.Run("Block is visible in both directions", func(t *testing.T) {
		require.NoError(t, repo.Block(ctx, alice.ID, bob.ID))
		require.NoError(t, repo.Block(ctx, alice.ID, bob.ID))

		blocked, err := repo.IsBlocked(ctx, bob.ID, alice.ID)
		require.NoError(t, err)
		assert.True(t, blocked)

		among, err := repo.BlockedAmong(ctx, bob.ID, []uint{alice.ID, carol.ID})
		require.NoError(t, err)
		assert.Equal(t, []uint{alice.ID}, among)
	})

	t.Run("Unblock clears the relationship", func(t *testing.T) {
		require.NoError(t, repo.Unblock(ctx, alice.ID, bob.ID))
		blocked, err := repo.IsBlocked(ctx, alice.ID, bob.ID)
		require.NoError(t, err)
		assert.False(t, blocked)
	})

	t.Run("Contacts are directional", func(t *testing.T) {
		added, err := repo.AddContact(ctx, alice.ID, carol.ID)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = repo.AddContact(ctx, alice.ID, carol.ID)
		require.NoError(t, err)
		assert.False(t, added)

		isContact, err := repo.IsContact(ctx, carol.ID, alice.ID)
		require.NoError(t, err)
		assert.False(t, isContact)
	})

	t.Run("ListContacts returns the owner's contacts by username", func(t *testing.T) {
		_, err := repo.AddContact(ctx, alice.ID, bob.ID)
		require.NoError(t, err)

		contacts, err := repo.ListContacts(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, contacts, 2)
		assert.Equal(t, bob.ID, contacts[0].ID)
		assert.Equal(t, carol.ID, contacts[1].ID)

		contacts, err = repo.ListContacts(ctx, carol.ID)
		require.NoError(t, err)
		assert.Empty(t, contacts)
	})
}

func TestUserRepository_TouchLastSeen_OnlyMovesForward(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "dave")
	later := time.Now().UTC().Truncate(time.Second)
	earlier := later.Add(-time.Hour)

	require.NoError(t, repo.TouchLastSeen(ctx, user.ID, later))
	require.NoError(t, repo.TouchLastSeen(ctx, user.ID, earlier))

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSeen)
	assert.True(t, got.LastSeen.Equal(later), "last seen went backwards: %v", got.LastSeen)
}
