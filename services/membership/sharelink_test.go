package membership

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/mail"
	"github.com/jjermany/Plex-Donate-sub002/services/portal"
	"github.com/jjermany/Plex-Donate-sub002/services/settings"
	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// fakePortal 记录调用并按序发码的门户替身
type fakePortal struct {
	created []portal.CreateInviteRequest
	revoked []string
	seq     int
}

func (f *fakePortal) CreateInvite(ctx context.Context, req portal.CreateInviteRequest) (*portal.CreateInviteResult, error) {
	f.created = append(f.created, req)
	f.seq++
	code := fmt.Sprintf("TESTCODE%02d", f.seq)
	return &portal.CreateInviteResult{InviteCode: code, InviteURL: "https://wizarr.test/j/" + code}, nil
}

func (f *fakePortal) RevokeInvite(ctx context.Context, code string) error {
	f.revoked = append(f.revoked, code)
	return nil
}

// newMembershipTestService 每个测试一套独立的内存库和服务
func newMembershipTestService(t *testing.T) (*Service, *repository.Repository, *fakePortal) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Donor{}, &models.Prospect{}, &models.Invite{},
		&models.InviteLink{}, &models.Payment{}, &models.Event{}, &models.Setting{},
	))

	repo := repository.New(db)
	settingsService := settings.NewService(db)
	svc := NewService(repo, settingsService, mail.NewMailService(settingsService), nil)

	fp := &fakePortal{}
	svc.newPortal = func() (InvitePortal, error) { return fp, nil }
	return svc, repo, fp
}

func createTestDonor(t *testing.T, repo *repository.Repository, email, status string) *models.Donor {
	t.Helper()
	donor := &models.Donor{Email: email, Name: "老会员", Status: status}
	require.NoError(t, repo.CreateDonor(donor))
	return donor
}

func createTestInvite(t *testing.T, repo *repository.Repository, donorID uint, code, recipient string) *models.Invite {
	t.Helper()
	invite := &models.Invite{DonorID: donorID, Code: code, URL: "https://wizarr.test/j/" + code, RecipientEmail: recipient}
	require.NoError(t, repo.CreateInvite(invite))
	return invite
}

// 同收件邮箱（大小写无关）直接复用既有邀请，不打门户，
// 但本次请求带的联系方式仍然更新到会员上
func TestGenerateShareInviteReusesForSameRecipient(t *testing.T) {
	svc, repo, fp := newMembershipTestService(t)

	donor := createTestDonor(t, repo, "a@b.c", models.DonorStatusActive)
	existing := createTestInvite(t, repo, donor.ID, "OLDCODE001", "a@b.c")
	link, err := repo.CreateShareLink(&donor.ID, nil)
	require.NoError(t, err)

	invite, err := svc.GenerateShareInvite(context.Background(), link.Token, link.SessionToken,
		GenerateInviteInput{Email: "A@B.C", Name: "新名字"})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, invite.ID)
	assert.Empty(t, fp.created, "复用路径不应调用门户")
	assert.Empty(t, fp.revoked)

	updated, err := repo.GetDonorByID(donor.ID)
	require.NoError(t, err)
	assert.Equal(t, "新名字", updated.Name)

	fresh, err := repo.GetShareLinkByToken(link.Token)
	require.NoError(t, err)
	assert.NotNil(t, fresh.LastUsedAt)
}

// 换收件邮箱时签发新邀请并收回旧的：任一时刻至多一条生效邀请
func TestGenerateShareInviteSupersedesOnNewRecipient(t *testing.T) {
	svc, repo, fp := newMembershipTestService(t)

	donor := createTestDonor(t, repo, "a@b.c", models.DonorStatusActive)
	createTestInvite(t, repo, donor.ID, "FRIEND0001", "friend@x.com")
	link, err := repo.CreateShareLink(&donor.ID, nil)
	require.NoError(t, err)

	invite, err := svc.GenerateShareInvite(context.Background(), link.Token, link.SessionToken,
		GenerateInviteInput{Email: "other@y.com"})
	require.NoError(t, err)

	require.Len(t, fp.created, 1)
	assert.Equal(t, []string{"FRIEND0001"}, fp.revoked)
	assert.Equal(t, "TESTCODE01", invite.Code)

	actives, err := repo.GetActiveInvitesForDonor(donor.ID)
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, "other@y.com", actives[0].RecipientEmail)
}

// 非 active 会员不能生成邀请
func TestGenerateShareInviteRequiresActiveSubscription(t *testing.T) {
	svc, repo, fp := newMembershipTestService(t)

	donor := createTestDonor(t, repo, "pending@b.c", models.DonorStatusPending)
	link, err := repo.CreateShareLink(&donor.ID, nil)
	require.NoError(t, err)

	_, err = svc.GenerateShareInvite(context.Background(), link.Token, link.SessionToken,
		GenerateInviteInput{Email: "friend@x.com"})
	require.Error(t, err)
	assert.True(t, transport.IsKind(err, ErrKindForbidden))

	ae, ok := transport.AsAdapterError(err)
	require.True(t, ok)
	assert.Contains(t, ae.Message, "subscription")
	assert.Empty(t, fp.created)
}

// 会话令牌不对时拒绝，避免只凭公开 token 写入
func TestGenerateShareInviteRejectsBadSessionToken(t *testing.T) {
	svc, repo, _ := newMembershipTestService(t)

	donor := createTestDonor(t, repo, "a@b.c", models.DonorStatusActive)
	link, err := repo.CreateShareLink(&donor.ID, nil)
	require.NoError(t, err)

	_, err = svc.GenerateShareInvite(context.Background(), link.Token, "wrong-session",
		GenerateInviteInput{Email: "friend@x.com"})
	require.Error(t, err)
	assert.True(t, transport.IsKind(err, ErrKindUnauthorized))
}

// 管理员路径同样遵守至多一条生效邀请：换邮箱先收旧再立新
func TestEnsureActiveInviteSupersedesOnEmailChange(t *testing.T) {
	svc, repo, fp := newMembershipTestService(t)

	donor := createTestDonor(t, repo, "a@b.c", models.DonorStatusActive)
	createTestInvite(t, repo, donor.ID, "FRIEND0001", "friend@x.com")

	invite, err := svc.EnsureActiveInvite(context.Background(), donor, "", "后台手工签发")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", invite.RecipientEmail)
	assert.Equal(t, []string{"FRIEND0001"}, fp.revoked)

	actives, err := repo.GetActiveInvitesForDonor(donor.ID)
	require.NoError(t, err)
	require.Len(t, actives, 1)

	// 同邮箱再签发：直接复用，不再打门户
	again, err := svc.EnsureActiveInvite(context.Background(), donor, "a@b.c", "")
	require.NoError(t, err)
	assert.Equal(t, invite.ID, again.ID)
	assert.Len(t, fp.created, 1)
}

// 意向用户经账号设置转正：建 pending 会员、链接改挂、prospect 标记转化
func TestSetupAccountPromotesProspect(t *testing.T) {
	svc, repo, _ := newMembershipTestService(t)

	prospect := &models.Prospect{Email: "future@example.com", Name: "未来会员"}
	require.NoError(t, repo.CreateProspect(prospect))
	link, err := repo.CreateShareLink(nil, &prospect.ID)
	require.NoError(t, err)

	proj, err := svc.SetupAccount(context.Background(), link.Token, link.SessionToken, AccountSetupInput{
		Email:           "future@example.com",
		Name:            "未来会员",
		Password:        "password123",
		ConfirmPassword: "password123",
		SubscriptionID:  "I-NEW123",
	})
	require.NoError(t, err)
	require.NotNil(t, proj.Donor)
	assert.Nil(t, proj.Prospect)

	donor, err := repo.GetDonorByEmail("future@example.com")
	require.NoError(t, err)
	require.NotNil(t, donor.SubscriptionID)
	assert.Equal(t, "I-NEW123", *donor.SubscriptionID)
	assert.NotEmpty(t, donor.PasswordHash)
	assert.Equal(t, models.DonorStatusPending, donor.Status)

	fresh, err := repo.GetShareLinkByToken(link.Token)
	require.NoError(t, err)
	require.NotNil(t, fresh.DonorID)
	assert.Equal(t, donor.ID, *fresh.DonorID)
	assert.Nil(t, fresh.ProspectID, "改挂会员后 prospect 关联应清空")

	converted, err := repo.GetProspectByID(prospect.ID)
	require.NoError(t, err)
	require.NotNil(t, converted.ConvertedAt)
	require.NotNil(t, converted.ConvertedDonorID)
	assert.Equal(t, donor.ID, *converted.ConvertedDonorID)
}

// 已取消的会员不能再通过分享链接重设账号
func TestSetupAccountBlockedForCancelledDonor(t *testing.T) {
	svc, repo, _ := newMembershipTestService(t)

	donor := createTestDonor(t, repo, "gone@b.c", models.DonorStatusCancelled)
	link, err := repo.CreateShareLink(&donor.ID, nil)
	require.NoError(t, err)

	_, err = svc.SetupAccount(context.Background(), link.Token, link.SessionToken, AccountSetupInput{
		Email:           "gone@b.c",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	require.Error(t, err)
	assert.True(t, transport.IsKind(err, ErrKindForbidden))

	ae, ok := transport.AsAdapterError(err)
	require.True(t, ok)
	assert.Contains(t, ae.Message, "subscription")
}

// 事件时钟落在会员记录上：重启（换一个服务实例）后乱序重投的旧事件照样被挡
func TestAdvanceClockSurvivesRestart(t *testing.T) {
	svc, repo, fp := newMembershipTestService(t)

	donor := createTestDonor(t, repo, "clock@b.c", models.DonorStatusActive)
	require.NoError(t, repo.UpdateDonorSubscriptionID(donor.ID, "I-CLK1"))
	subID := "I-CLK1"
	donor.SubscriptionID = &subID

	t2 := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	evt2 := &WebhookEvent{Type: EventSubscriptionActivated, CreateTime: t2,
		Resource: map[string]interface{}{"id": "I-CLK1"}}
	assert.True(t, svc.advanceClock(donor, evt2))

	// 新进程：事件时钟内存态清零，但会员上的时间戳还在
	restarted := NewService(repo, svc.settings, svc.mail, nil)
	restarted.newPortal = func() (InvitePortal, error) { return fp, nil }

	reloaded, err := repo.GetDonorByID(donor.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastEventAt)
	assert.True(t, reloaded.LastEventAt.Equal(t2))

	t1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	evt1 := &WebhookEvent{Type: EventSubscriptionCancelled, CreateTime: t1,
		Resource: map[string]interface{}{"id": "I-CLK1"}}
	assert.False(t, restarted.advanceClock(reloaded, evt1), "重启后更旧的事件不应推进时钟")

	t3 := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	evt3 := &WebhookEvent{Type: EventSubscriptionCancelled, CreateTime: t3,
		Resource: map[string]interface{}{"id": "I-CLK1"}}
	assert.True(t, restarted.advanceClock(reloaded, evt3))
}
