package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jjermany/Plex-Donate-sub002/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Donor{}, &models.Prospect{}, &models.Invite{},
		&models.InviteLink{}, &models.Payment{}, &models.Event{},
	))
	return New(db)
}

// 事务内任何一步失败，之前的写入全部回滚
func TestTransactionRollsBackOnError(t *testing.T) {
	repo := newTestRepository(t)

	boom := errors.New("中途失败")
	err := repo.Transaction(func(tx *Repository) error {
		if err := tx.CreateDonor(&models.Donor{Email: "rollback@example.com", Status: models.DonorStatusPending}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetDonorByEmail("rollback@example.com")
	assert.ErrorIs(t, err, ErrNotFound, "回滚后不应留下半成品会员")
}

func TestTransactionCommitsAllWrites(t *testing.T) {
	repo := newTestRepository(t)

	donor := &models.Donor{Email: "commit@example.com", Status: models.DonorStatusPending}
	err := repo.Transaction(func(tx *Repository) error {
		if err := tx.CreateDonor(donor); err != nil {
			return err
		}
		return tx.UpdateDonorPassword(donor.ID, "hash")
	})
	require.NoError(t, err)

	saved, err := repo.GetDonorByEmail("commit@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", saved.PasswordHash)
}

// 重复撤销是无害空操作，revokedAt 只盖一次
func TestRevokeInviteIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)

	donor := &models.Donor{Email: "invitee@example.com", Status: models.DonorStatusActive}
	require.NoError(t, repo.CreateDonor(donor))
	invite := &models.Invite{DonorID: donor.ID, Code: "IDEMPOT001", RecipientEmail: donor.Email}
	require.NoError(t, repo.CreateInvite(invite))

	require.NoError(t, repo.RevokeInvite(invite.ID))
	actives, err := repo.GetActiveInvitesForDonor(donor.ID)
	require.NoError(t, err)
	assert.Empty(t, actives)

	require.NoError(t, repo.RevokeInvite(invite.ID))
}
