package repository

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// Repository 持久层：跨会员不变量（邮箱唯一、订阅 id 唯一）
// 全部由数据库约束兜底，这里只做查询和封装。
type Repository struct {
	db *gorm.DB
}

// New 创建仓储
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB 暴露底层连接（控制器的分页列表查询用）
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Transaction 在单个数据库事务里执行 fn，fn 返回错误时整体回滚。
// 账号设置这类多表写入靠它保证外界看不到写了一半的状态。
func (r *Repository) Transaction(fn func(tx *Repository) error) error {
	return r.db.Transaction(func(txdb *gorm.DB) error {
		return fn(&Repository{db: txdb})
	})
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- 会员 ----

// GetDonorByID 按 id 查会员
func (r *Repository) GetDonorByID(id uint) (*models.Donor, error) {
	var donor models.Donor
	if err := r.db.First(&donor, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &donor, nil
}

// GetDonorByEmail 按邮箱查会员（大小写不敏感，邮箱入库即小写）
func (r *Repository) GetDonorByEmail(email string) (*models.Donor, error) {
	var donor models.Donor
	if err := r.db.Where("email = ?", models.NormalizeEmail(email)).First(&donor).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &donor, nil
}

// GetDonorBySubscriptionID 按订阅 id 查会员
func (r *Repository) GetDonorBySubscriptionID(subscriptionID string) (*models.Donor, error) {
	if subscriptionID == "" {
		return nil, ErrNotFound
	}
	var donor models.Donor
	if err := r.db.Where("subscription_id = ?", subscriptionID).First(&donor).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &donor, nil
}

// CreateDonor 创建会员，邮箱先归一化
func (r *Repository) CreateDonor(donor *models.Donor) error {
	donor.Email = models.NormalizeEmail(donor.Email)
	return r.db.Create(donor).Error
}

// UpdateDonorContact 更新联系信息。保持 id 与订阅 id 不变；
// 相同输入重复执行等价于执行一次。
func (r *Repository) UpdateDonorContact(donorID uint, email, name string) error {
	updates := map[string]interface{}{}
	if email != "" {
		updates["email"] = models.NormalizeEmail(email)
	}
	if name != "" {
		updates["name"] = name
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Donor{}).Where("id = ?", donorID).Updates(updates).Error
}

// UpdateDonorSubscriptionID 更新会员的订阅 id
func (r *Repository) UpdateDonorSubscriptionID(donorID uint, subscriptionID string) error {
	var value interface{}
	if subscriptionID != "" {
		value = subscriptionID
	}
	return r.db.Model(&models.Donor{}).Where("id = ?", donorID).
		Update("subscription_id", value).Error
}

// UpdateDonorPassword 替换密码散列
func (r *Repository) UpdateDonorPassword(donorID uint, passwordHash string) error {
	return r.db.Model(&models.Donor{}).Where("id = ?", donorID).
		Update("password_hash", passwordHash).Error
}

// UpdateDonorLastEventAt 记录会员最近一次已处理的 PayPal 事件时间
func (r *Repository) UpdateDonorLastEventAt(donorID uint, at time.Time) error {
	return r.db.Model(&models.Donor{}).Where("id = ?", donorID).
		Update("last_event_at", &at).Error
}

// UpdateDonorStatus 迁移会员状态，付款时间一并记录
func (r *Repository) UpdateDonorStatus(donorID uint, status string, paymentAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if paymentAt != nil {
		updates["last_payment_at"] = paymentAt
	}
	return r.db.Model(&models.Donor{}).Where("id = ?", donorID).Updates(updates).Error
}

// ---- 意向用户 ----

// GetProspectByID 按 id 查意向用户
func (r *Repository) GetProspectByID(id uint) (*models.Prospect, error) {
	var prospect models.Prospect
	if err := r.db.First(&prospect, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &prospect, nil
}

// CreateProspect 创建意向用户
func (r *Repository) CreateProspect(prospect *models.Prospect) error {
	prospect.Email = models.NormalizeEmail(prospect.Email)
	return r.db.Create(prospect).Error
}

// MarkProspectConverted 标记意向用户已转化为会员
func (r *Repository) MarkProspectConverted(prospectID, donorID uint) error {
	now := time.Now()
	return r.db.Model(&models.Prospect{}).Where("id = ?", prospectID).Updates(map[string]interface{}{
		"converted_at":       &now,
		"converted_donor_id": donorID,
	}).Error
}

// ---- 分享链接 ----

// CreateShareLink 为会员或意向用户铸造分享链接。
// token 和 sessionToken 都来自密码学随机源。
func (r *Repository) CreateShareLink(donorID, prospectID *uint) (*models.InviteLink, error) {
	if (donorID == nil) == (prospectID == nil) {
		return nil, errors.New("分享链接必须且只能挂一个 donor 或 prospect")
	}
	token, err := utils.GenerateSecureToken(24)
	if err != nil {
		return nil, err
	}
	sessionToken, err := utils.GenerateSecureToken(24)
	if err != nil {
		return nil, err
	}
	link := &models.InviteLink{
		Token:        token,
		SessionToken: sessionToken,
		DonorID:      donorID,
		ProspectID:   prospectID,
	}
	if err := r.db.Create(link).Error; err != nil {
		return nil, err
	}
	return link, nil
}

// GetShareLinkByToken 按 token 查分享链接，关联对象一并取出
func (r *Repository) GetShareLinkByToken(token string) (*models.InviteLink, error) {
	var link models.InviteLink
	if err := r.db.Preload("Donor").Preload("Prospect").
		Where("token = ?", token).First(&link).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &link, nil
}

// AssignShareLinkToDonor 把分享链接改挂到会员名下：
// prospect 关联清空，clearLastUsed 时连 lastUsedAt 一起清。
func (r *Repository) AssignShareLinkToDonor(linkID, donorID uint, clearLastUsed bool) error {
	updates := map[string]interface{}{
		"donor_id":    donorID,
		"prospect_id": nil,
	}
	if clearLastUsed {
		updates["last_used_at"] = nil
	}
	return r.db.Model(&models.InviteLink{}).Where("id = ?", linkID).Updates(updates).Error
}

// MarkShareLinkUsed 记录链接被使用的时间
func (r *Repository) MarkShareLinkUsed(linkID uint) error {
	now := time.Now()
	return r.db.Model(&models.InviteLink{}).Where("id = ?", linkID).
		Update("last_used_at", &now).Error
}

// ---- 邀请 ----

// GetLatestActiveInviteForDonor 会员当前生效的邀请（未撤销的最新一条）
func (r *Repository) GetLatestActiveInviteForDonor(donorID uint) (*models.Invite, error) {
	var invite models.Invite
	if err := r.db.Where("donor_id = ? AND revoked_at IS NULL", donorID).
		Order("created_at DESC").First(&invite).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &invite, nil
}

// GetActiveInvitesForDonor 会员全部未撤销的邀请
func (r *Repository) GetActiveInvitesForDonor(donorID uint) ([]models.Invite, error) {
	var invites []models.Invite
	if err := r.db.Where("donor_id = ? AND revoked_at IS NULL", donorID).
		Order("created_at DESC").Find(&invites).Error; err != nil {
		return nil, err
	}
	return invites, nil
}

// CreateInvite 保存一条新签发的邀请
func (r *Repository) CreateInvite(invite *models.Invite) error {
	invite.RecipientEmail = models.NormalizeEmail(invite.RecipientEmail)
	return r.db.Create(invite).Error
}

// RevokeInvite 给邀请盖撤销时间戳。重复撤销是无害的空操作。
func (r *Repository) RevokeInvite(inviteID uint) error {
	now := time.Now()
	return r.db.Model(&models.Invite{}).
		Where("id = ? AND revoked_at IS NULL", inviteID).
		Update("revoked_at", &now).Error
}

// ---- 台账与审计 ----

// CreatePayment 记一笔支付台账。交易 id 撞唯一索引说明是重复投递，忽略。
func (r *Repository) CreatePayment(payment *models.Payment) error {
	err := r.db.Create(payment).Error
	if err != nil && isDuplicateError(err) {
		return nil
	}
	return err
}

// LogEvent 追加一条审计事件，payload 序列化为 JSON
func (r *Repository) LogEvent(eventType string, payload interface{}) {
	encoded := ""
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			encoded = string(data)
		}
	}
	event := models.Event{Type: eventType, Payload: encoded, OccurredAt: time.Now()}
	if err := r.db.Create(&event).Error; err != nil {
		utils.LogError("写入审计事件失败", err)
	}
}

// ---- 会话 ----

// SaveSession 保存会话
func (r *Repository) SaveSession(sessionID, data string, expiresAt time.Time) error {
	session := models.Session{SessionID: sessionID, Data: data, ExpiresAt: expiresAt}
	res := r.db.Model(&models.Session{}).Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{"data": data, "expires_at": expiresAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.db.Create(&session).Error
	}
	return nil
}

// GetSession 读取未过期的会话
func (r *Repository) GetSession(sessionID string) (*models.Session, error) {
	var session models.Session
	if err := r.db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	if session.IsExpired() {
		return nil, ErrNotFound
	}
	return &session, nil
}

// DeleteSession 删除会话
func (r *Repository) DeleteSession(sessionID string) error {
	return r.db.Where("session_id = ?", sessionID).Delete(&models.Session{}).Error
}

// PurgeExpiredSessions 清理过期会话
func (r *Repository) PurgeExpiredSessions() error {
	return r.db.Where("expires_at < ?", time.Now()).Delete(&models.Session{}).Error
}

// isDuplicateError MySQL 唯一键冲突
func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}
