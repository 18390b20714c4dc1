package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/portal"
	"github.com/jjermany/Plex-Donate-sub002/services/transport"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// DonorView 分享页可见的会员字段
type DonorView struct {
	ID            uint       `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	Status        string     `json:"status"`
	HasPassword   bool       `json:"has_password"`
	LastPaymentAt *time.Time `json:"last_payment_at,omitempty"`
}

// ProspectView 分享页可见的意向用户字段
type ProspectView struct {
	ID    uint   `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// InviteView 分享页可见的邀请字段
type InviteView struct {
	Code      string    `json:"code"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// PlanContext 前端发起 PayPal 结账需要的公开参数
type PlanContext struct {
	Configured        bool    `json:"configured"`
	ClientID          string  `json:"client_id,omitempty"`
	PlanID            string  `json:"plan_id,omitempty"`
	Currency          string  `json:"currency,omitempty"`
	SubscriptionPrice float64 `json:"subscription_price,omitempty"`
}

// ShareLinkProjection 分享链接的公开投影。
// 会话令牌不在其中，GET 不会泄露改写能力。
type ShareLinkProjection struct {
	Token      string        `json:"token"`
	Donor      *DonorView    `json:"donor,omitempty"`
	Prospect   *ProspectView `json:"prospect,omitempty"`
	Invite     *InviteView   `json:"invite,omitempty"`
	PayPal     PlanContext   `json:"paypal"`
	LastUsedAt *time.Time    `json:"last_used_at,omitempty"`
}

// AccountSetupInput 账号设置请求
type AccountSetupInput struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	SubscriptionID  string `json:"subscriptionId"`
}

// GenerateInviteInput 生成邀请请求
type GenerateInviteInput struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Note          string `json:"note"`
	ExpiresInDays int    `json:"expiresInDays"`
}

// CheckoutResult PayPal 结账入口
type CheckoutResult struct {
	ApprovalURL    string `json:"approvalUrl"`
	SubscriptionID string `json:"subscriptionId"`
}

// GetShareLink 按 token 取分享链接的公开投影
func (s *Service) GetShareLink(token string) (*ShareLinkProjection, error) {
	link, err := s.lookupLink(token)
	if err != nil {
		return nil, err
	}
	return s.project(link)
}

// lookupLink 取链接，不存在时统一转 NotFound
func (s *Service) lookupLink(token string) (*models.InviteLink, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, notFoundError("分享链接不存在")
	}
	link, err := s.repo.GetShareLinkByToken(token)
	if err == repository.ErrNotFound {
		return nil, notFoundError("分享链接不存在")
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

// authorizeLink 取链接并校验会话令牌
func (s *Service) authorizeLink(token, sessionToken string) (*models.InviteLink, error) {
	link, err := s.lookupLink(token)
	if err != nil {
		return nil, err
	}
	if !link.VerifySessionToken(strings.TrimSpace(sessionToken)) {
		return nil, unauthorizedError()
	}
	return link, nil
}

// project 组装公开投影
func (s *Service) project(link *models.InviteLink) (*ShareLinkProjection, error) {
	proj := &ShareLinkProjection{
		Token:      link.Token,
		LastUsedAt: link.LastUsedAt,
	}

	if link.Donor != nil {
		proj.Donor = &DonorView{
			ID:            link.Donor.ID,
			Email:         link.Donor.Email,
			Name:          link.Donor.Name,
			Status:        link.Donor.Status,
			HasPassword:   link.Donor.PasswordHash != "",
			LastPaymentAt: link.Donor.LastPaymentAt,
		}
		if invite, err := s.repo.GetLatestActiveInviteForDonor(link.Donor.ID); err == nil {
			proj.Invite = &InviteView{
				Code:      invite.Code,
				URL:       invite.URL,
				CreatedAt: invite.CreatedAt,
			}
		}
	}
	if link.Prospect != nil {
		proj.Prospect = &ProspectView{
			ID:    link.Prospect.ID,
			Email: link.Prospect.Email,
			Name:  link.Prospect.Name,
		}
	}

	if cfg, err := s.settings.PayPal(); err == nil {
		proj.PayPal = PlanContext{
			Configured:        cfg.ClientID != "" && cfg.PlanID != "",
			ClientID:          cfg.ClientID,
			PlanID:            cfg.PlanID,
			Currency:          cfg.Currency,
			SubscriptionPrice: cfg.SubscriptionPrice,
		}
	}
	return proj, nil
}

// SetupAccount 分享链接的账号设置。
// 已挂会员走更新路径；只挂意向用户时先找既有会员再创建，
// 最后把链接改挂到会员名下并标记意向用户已转化。
func (s *Service) SetupAccount(ctx context.Context, token, sessionToken string, input AccountSetupInput) (*ShareLinkProjection, error) {
	link, err := s.authorizeLink(token, sessionToken)
	if err != nil {
		return nil, err
	}

	email := models.NormalizeEmail(input.Email)
	if !utils.IsValidEmail(email) {
		return nil, validationError("邮箱格式不正确")
	}
	if reason := utils.ValidatePassword(input.Password, input.ConfirmPassword); reason != "" {
		return nil, validationError(reason)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, transport.NewAdapterError(ErrKindInternal, "密码散列失败").WithStatus(500)
	}

	// 多表写入在同一事务里完成，半途失败整体回滚
	var donor *models.Donor
	switch {
	case link.Donor != nil:
		donor = link.Donor
		if models.StatusBlocksAccountSetup(donor.Status) {
			return nil, transport.NewAdapterError(ErrKindForbidden,
				fmt.Sprintf("当前订阅状态为 %s，无法设置账号 (subscription %s)", donor.Status, donor.Status)).
				WithStatus(403)
		}
		err = s.repo.Transaction(func(tx *repository.Repository) error {
			if err := s.applyAccountUpdates(tx, donor, email, input.Name, input.SubscriptionID, string(hashed)); err != nil {
				return err
			}
			return tx.MarkShareLinkUsed(link.ID)
		})
		if err != nil {
			return nil, err
		}

	case link.Prospect != nil:
		err = s.repo.Transaction(func(tx *repository.Repository) error {
			donor, err = s.promoteProspect(tx, link, email, input, string(hashed))
			return err
		})
		if err != nil {
			return nil, err
		}

	default:
		return nil, notFoundError("分享链接未关联任何对象")
	}

	s.repo.LogEvent(models.EventAccountSetup, map[string]interface{}{
		"donor_id": donor.ID,
		"email":    donor.Email,
	})

	// 重挂/更新之后重新读，投影反映最新状态
	fresh, err := s.lookupLink(link.Token)
	if err != nil {
		return nil, err
	}
	return s.project(fresh)
}

// applyAccountUpdates 会员路径：联系方式、订阅 id、密码按需替换
func (s *Service) applyAccountUpdates(tx *repository.Repository, donor *models.Donor, email, name, subscriptionID, passwordHash string) error {
	if email != donor.Email || (name != "" && name != donor.Name) {
		if err := tx.UpdateDonorContact(donor.ID, email, name); err != nil {
			return err
		}
		donor.Email = email
		if name != "" {
			donor.Name = name
		}
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID != "" && (donor.SubscriptionID == nil || *donor.SubscriptionID != subscriptionID) {
		if err := tx.UpdateDonorSubscriptionID(donor.ID, subscriptionID); err != nil {
			return err
		}
		donor.SubscriptionID = &subscriptionID
	}
	return tx.UpdateDonorPassword(donor.ID, passwordHash)
}

// promoteProspect 意向用户转正：优先认领既有会员，否则新建 pending 会员
func (s *Service) promoteProspect(tx *repository.Repository, link *models.InviteLink, email string, input AccountSetupInput, passwordHash string) (*models.Donor, error) {
	var donor *models.Donor
	subscriptionID := strings.TrimSpace(input.SubscriptionID)

	if subscriptionID != "" {
		if found, err := tx.GetDonorBySubscriptionID(subscriptionID); err == nil {
			donor = found
		} else if err != repository.ErrNotFound {
			return nil, err
		}
	}
	if donor == nil {
		if found, err := tx.GetDonorByEmail(email); err == nil {
			donor = found
		} else if err != repository.ErrNotFound {
			return nil, err
		}
	}

	if donor != nil {
		if err := s.applyAccountUpdates(tx, donor, email, input.Name, subscriptionID, passwordHash); err != nil {
			return nil, err
		}
	} else {
		donor = &models.Donor{
			Email:        email,
			Name:         input.Name,
			PasswordHash: passwordHash,
			Status:       models.DonorStatusPending,
		}
		if subscriptionID != "" {
			donor.SubscriptionID = &subscriptionID
		}
		if err := tx.CreateDonor(donor); err != nil {
			return nil, err
		}
	}

	// 链接改挂会员，prospect 关联清空，lastUsedAt 一并清掉
	if err := tx.AssignShareLinkToDonor(link.ID, donor.ID, true); err != nil {
		return nil, err
	}
	if link.ProspectID != nil {
		if err := tx.MarkProspectConverted(*link.ProspectID, donor.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.MarkShareLinkUsed(link.ID); err != nil {
		return nil, err
	}
	return donor, nil
}

// GenerateShareInvite 通过分享链接生成邀请。
// 只有 active 会员能生成；同收件邮箱的未撤销邀请直接复用。
func (s *Service) GenerateShareInvite(ctx context.Context, token, sessionToken string, input GenerateInviteInput) (*models.Invite, error) {
	link, err := s.authorizeLink(token, sessionToken)
	if err != nil {
		return nil, err
	}
	donor := link.Donor
	if donor == nil || !donor.IsActive() {
		return nil, transport.NewAdapterError(ErrKindForbidden,
			"订阅未处于生效状态，无法生成邀请 (subscription inactive)").WithStatus(403)
	}

	email := models.NormalizeEmail(input.Email)
	if !utils.IsValidEmail(email) {
		return nil, validationError("邮箱格式不正确")
	}

	// 复用检查：同会员同收件邮箱的未撤销邀请不再打门户，
	// 但本次请求带的联系方式照样更新
	invites, err := s.repo.GetActiveInvitesForDonor(donor.ID)
	if err != nil {
		return nil, err
	}
	for i := range invites {
		if models.NormalizeEmail(invites[i].RecipientEmail) == email {
			if email != donor.Email || (input.Name != "" && input.Name != donor.Name) {
				if err := s.repo.UpdateDonorContact(donor.ID, email, input.Name); err != nil {
					return nil, err
				}
			}
			if err := s.repo.MarkShareLinkUsed(link.ID); err != nil {
				return nil, err
			}
			return &invites[i], nil
		}
	}

	portalClient, err := s.newPortal()
	if err != nil {
		return nil, err
	}
	result, err := portalClient.CreateInvite(ctx, portal.CreateInviteRequest{
		Email:         email,
		Name:          input.Name,
		Note:          input.Note,
		ExpiresInDays: input.ExpiresInDays,
	})
	if err != nil {
		var adapterErr *transport.AdapterError
		if errors.As(err, &adapterErr) && adapterErr.Kind == portal.ErrKindServerSelectionRequired {
			s.repo.LogEvent(models.EventServerSelection, map[string]interface{}{
				"donor_id": donor.ID,
				"email":    email,
				"details":  adapterErr.Details,
			})
		}
		return nil, err
	}

	// 换了收件邮箱：旧邀请全部收回，保持至多一条生效
	if err := s.revokeSuperseded(ctx, portalClient, donor.ID, invites); err != nil {
		return nil, err
	}

	invite := &models.Invite{
		DonorID:        donor.ID,
		Code:           result.InviteCode,
		URL:            result.InviteURL,
		RecipientEmail: email,
		Note:           input.Note,
	}
	if err := s.repo.CreateInvite(invite); err != nil {
		return nil, err
	}
	if email != donor.Email || (input.Name != "" && input.Name != donor.Name) {
		if err := s.repo.UpdateDonorContact(donor.ID, email, input.Name); err != nil {
			return nil, err
		}
	}
	if err := s.repo.MarkShareLinkUsed(link.ID); err != nil {
		return nil, err
	}
	s.repo.LogEvent(models.EventShareInviteGenerated, map[string]interface{}{
		"donor_id": donor.ID,
		"code":     invite.Code,
		"email":    email,
	})

	if err := s.mail.SendInviteMail(email, invite.Code, invite.URL, nil); err != nil {
		utils.LogWarn(fmt.Sprintf("邀请邮件发送失败 (%s): %v", email, err))
	}
	return invite, nil
}

// CreateCheckout 为分享链接发起一笔 PayPal 订阅结账
func (s *Service) CreateCheckout(ctx context.Context, token, sessionToken, email, name string) (*CheckoutResult, error) {
	link, err := s.authorizeLink(token, sessionToken)
	if err != nil {
		return nil, err
	}

	pay, err := s.newPayPal()
	if err != nil {
		return nil, err
	}
	if !pay.Configured() {
		return nil, transport.NewAdapterError(ErrKindDisabled, "PayPal 尚未配置").WithStatus(503)
	}

	if email == "" {
		if link.Donor != nil {
			email = link.Donor.Email
		} else if link.Prospect != nil {
			email = link.Prospect.Email
		}
	}

	base := strings.TrimRight(s.settings.PublicBaseURL(), "/")
	returnURL := fmt.Sprintf("%s/share/%s?checkout=return", base, link.Token)
	cancelURL := fmt.Sprintf("%s/share/%s?checkout=cancel", base, link.Token)

	result, err := pay.CreateSubscription(ctx, email, name, returnURL, cancelURL)
	if err != nil {
		return nil, transport.NewAdapterError("UpstreamRequestFailed", err.Error()).WithStatus(502)
	}
	return &CheckoutResult{
		ApprovalURL:    result.ApprovalURL,
		SubscriptionID: result.SubscriptionID,
	}, nil
}
