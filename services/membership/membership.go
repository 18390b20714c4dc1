package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/mail"
	"github.com/jjermany/Plex-Donate-sub002/services/mediaserver"
	"github.com/jjermany/Plex-Donate-sub002/services/paypal"
	"github.com/jjermany/Plex-Donate-sub002/services/portal"
	"github.com/jjermany/Plex-Donate-sub002/services/settings"
	"github.com/jjermany/Plex-Donate-sub002/services/transport"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// 会员生命周期层错误 kind
const (
	ErrKindValidation   = "Validation"
	ErrKindUnauthorized = "Unauthorized"
	ErrKindForbidden    = "SubscriptionInactive"
	ErrKindNotFound     = "NotFound"
	ErrKindDisabled     = "ProviderDisabled"
	ErrKindInternal     = "Internal"
)

// InvitePortal 生命周期层依赖的门户能力
type InvitePortal interface {
	CreateInvite(ctx context.Context, req portal.CreateInviteRequest) (*portal.CreateInviteResult, error)
	RevokeInvite(ctx context.Context, code string) error
}

// MediaServer 生命周期层依赖的媒体服务器能力
type MediaServer interface {
	RevokeUser(ctx context.Context, req mediaserver.RevokeUserRequest) (*mediaserver.RevokeResult, error)
}

// PaymentProvider 生命周期层依赖的支付能力
type PaymentProvider interface {
	Configured() bool
	CreateSubscription(ctx context.Context, email, name, returnURL, cancelURL string) (*paypal.SubscriptionResult, error)
	VerifyWebhookSignature(ctx context.Context, headers http.Header, rawEvent json.RawMessage) (bool, error)
}

// Service 订阅生命周期控制器：围绕会员状态机协调
// 门户邀请、媒体服务器撤销和分享链接三条线。
// 适配器按调用现建，后台改完配置下一次调用即生效。
type Service struct {
	repo     *repository.Repository
	settings *settings.Service
	mail     *mail.MailService

	newPortal func() (InvitePortal, error)
	newMedia  func() (MediaServer, error)
	newPayPal func() (PaymentProvider, error)

	// 同一订阅按 PayPal 事件时间做"最新者胜"，乱序投递不会回退状态
	seen *eventClock
}

// NewService 创建生命周期服务
func NewService(repo *repository.Repository, settingsService *settings.Service, mailService *mail.MailService, tp transport.Requester) *Service {
	s := &Service{
		repo:     repo,
		settings: settingsService,
		mail:     mailService,
		seen:     newEventClock(),
	}
	s.newPortal = func() (InvitePortal, error) {
		cfg, err := settingsService.PortalConfig()
		if err != nil {
			return nil, err
		}
		return portal.New(tp, cfg), nil
	}
	s.newMedia = func() (MediaServer, error) {
		cfg, err := settingsService.MediaServerConfig()
		if err != nil {
			return nil, err
		}
		return mediaserver.New(tp, cfg), nil
	}
	s.newPayPal = func() (PaymentProvider, error) {
		cfg, err := settingsService.PayPal()
		if err != nil {
			return nil, err
		}
		return paypal.NewClient(paypal.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			WebhookID:    cfg.WebhookID,
			APIBase:      cfg.APIBase,
			PlanID:       cfg.PlanID,
			Currency:     cfg.Currency,
		}), nil
	}
	return s
}

// PayPalClient 当前配置下的支付客户端（webhook 验签用）
func (s *Service) PayPalClient() (PaymentProvider, error) {
	return s.newPayPal()
}

func validationError(message string) *transport.AdapterError {
	return transport.NewAdapterError(ErrKindValidation, message).WithStatus(400)
}

func unauthorizedError() *transport.AdapterError {
	return transport.NewAdapterError(ErrKindUnauthorized, "会话令牌缺失或不正确").WithStatus(401)
}

func notFoundError(message string) *transport.AdapterError {
	return transport.NewAdapterError(ErrKindNotFound, message).WithStatus(404)
}

// ActivateDonor 会员转入 active 并确保有一条生效邀请。
// 门户要求选服务器时只记审计事件等管理员处理，不自动重试。
func (s *Service) ActivateDonor(ctx context.Context, donor *models.Donor, paymentAt *time.Time) error {
	if err := s.repo.UpdateDonorStatus(donor.ID, models.DonorStatusActive, paymentAt); err != nil {
		return err
	}
	donor.Status = models.DonorStatusActive

	if _, err := s.EnsureActiveInvite(ctx, donor, donor.Email, ""); err != nil {
		var adapterErr *transport.AdapterError
		if errors.As(err, &adapterErr) && adapterErr.Kind == portal.ErrKindServerSelectionRequired {
			s.repo.LogEvent(models.EventServerSelection, map[string]interface{}{
				"donor_id": donor.ID,
				"email":    donor.Email,
				"details":  adapterErr.Details,
			})
			return nil
		}
		utils.LogError(fmt.Sprintf("会员 %d 激活后签发邀请失败", donor.ID), err)
		s.repo.LogEvent(models.EventWebhookError, map[string]interface{}{
			"donor_id": donor.ID,
			"stage":    "invite",
			"error":    err.Error(),
		})
	}
	return nil
}

// EnsureActiveInvite 为会员取得一条生效邀请。
// 同一收件邮箱已有未撤销邀请时直接复用，不再打门户；
// 收件邮箱变了则签发新邀请并收回旧的，保持至多一条生效。
func (s *Service) EnsureActiveInvite(ctx context.Context, donor *models.Donor, recipientEmail, note string) (*models.Invite, error) {
	recipientEmail = models.NormalizeEmail(recipientEmail)
	if recipientEmail == "" {
		recipientEmail = donor.Email
	}

	actives, err := s.repo.GetActiveInvitesForDonor(donor.ID)
	if err != nil {
		return nil, err
	}
	for i := range actives {
		if models.NormalizeEmail(actives[i].RecipientEmail) == recipientEmail {
			return &actives[i], nil
		}
	}

	portalClient, err := s.newPortal()
	if err != nil {
		return nil, err
	}
	result, err := portalClient.CreateInvite(ctx, portal.CreateInviteRequest{
		Email: recipientEmail,
		Name:  donor.Name,
		Note:  note,
	})
	if err != nil {
		return nil, err
	}

	if err := s.revokeSuperseded(ctx, portalClient, donor.ID, actives); err != nil {
		return nil, err
	}

	invite := &models.Invite{
		DonorID:        donor.ID,
		Code:           result.InviteCode,
		URL:            result.InviteURL,
		RecipientEmail: recipientEmail,
		Note:           note,
	}
	if err := s.repo.CreateInvite(invite); err != nil {
		return nil, err
	}
	s.repo.LogEvent(models.EventInviteIssued, map[string]interface{}{
		"donor_id": donor.ID,
		"code":     invite.Code,
		"email":    recipientEmail,
	})

	// 邮件失败不阻塞签发
	if err := s.mail.SendInviteMail(recipientEmail, invite.Code, invite.URL, nil); err != nil {
		utils.LogWarn(fmt.Sprintf("邀请邮件发送失败 (%s): %v", recipientEmail, err))
	}
	return invite, nil
}

// revokeSuperseded 新邀请落库前先收回旧的未撤销邀请：
// 门户侧尽力而为，本地撤销时间戳必定落库。
// 任一时刻每个会员至多一条生效邀请靠它兜底。
func (s *Service) revokeSuperseded(ctx context.Context, portalClient InvitePortal, donorID uint, invites []models.Invite) error {
	for i := range invites {
		if err := portalClient.RevokeInvite(ctx, invites[i].Code); err != nil {
			utils.LogWarn(fmt.Sprintf("门户撤销被替换的邀请 %s 失败: %v", invites[i].Code, err))
		}
		if err := s.repo.RevokeInvite(invites[i].ID); err != nil {
			return err
		}
		s.repo.LogEvent(models.EventInviteRevoked, map[string]interface{}{
			"donor_id": donorID,
			"code":     invites[i].Code,
			"reason":   "superseded",
		})
	}
	return nil
}

// DeactivateDonor 会员退场：状态落库，未撤销邀请逐条
// 先门户撤销（尽力而为，404 视为成功）再盖本地时间戳，
// revokeMediaUser 时额外按邮箱撤掉 Plex 上的共享用户。
func (s *Service) DeactivateDonor(ctx context.Context, donor *models.Donor, status string, revokeMediaUser bool) error {
	if err := s.repo.UpdateDonorStatus(donor.ID, status, nil); err != nil {
		return err
	}
	donor.Status = status

	invites, err := s.repo.GetActiveInvitesForDonor(donor.ID)
	if err != nil {
		return err
	}
	if len(invites) > 0 {
		portalClient, err := s.newPortal()
		if err != nil {
			return err
		}
		for i := range invites {
			if err := portalClient.RevokeInvite(ctx, invites[i].Code); err != nil {
				utils.LogWarn(fmt.Sprintf("门户撤销邀请 %s 失败: %v", invites[i].Code, err))
			}
			if err := s.repo.RevokeInvite(invites[i].ID); err != nil {
				return err
			}
			s.repo.LogEvent(models.EventInviteRevoked, map[string]interface{}{
				"donor_id": donor.ID,
				"code":     invites[i].Code,
				"status":   status,
			})
		}
	}

	if revokeMediaUser {
		media, err := s.newMedia()
		if err != nil {
			return err
		}
		result, err := media.RevokeUser(ctx, mediaserver.RevokeUserRequest{Email: donor.Email})
		if err != nil {
			utils.LogWarn(fmt.Sprintf("媒体服务器撤销用户 %s 失败: %v", donor.Email, err))
		} else if !result.Success {
			utils.LogInfo(fmt.Sprintf("媒体服务器上没有用户 %s: %s", donor.Email, result.Reason))
		}
	}
	return nil
}

// RevokePortalInvite 撤销单条邀请：门户侧尽力而为（已不存在视为成功），
// 本地撤销时间戳必定落库。
func (s *Service) RevokePortalInvite(ctx context.Context, invite *models.Invite) error {
	portalClient, err := s.newPortal()
	if err != nil {
		return err
	}
	if err := portalClient.RevokeInvite(ctx, invite.Code); err != nil {
		utils.LogWarn(fmt.Sprintf("门户撤销邀请 %s 失败: %v", invite.Code, err))
	}
	if err := s.repo.RevokeInvite(invite.ID); err != nil {
		return err
	}
	s.repo.LogEvent(models.EventInviteRevoked, map[string]interface{}{
		"donor_id": invite.DonorID,
		"code":     invite.Code,
	})
	return nil
}

// ForceRevokeDonor 管理员强制收回：等同订阅取消
func (s *Service) ForceRevokeDonor(ctx context.Context, donorID uint) error {
	donor, err := s.repo.GetDonorByID(donorID)
	if err != nil {
		return err
	}
	if err := s.DeactivateDonor(ctx, donor, models.DonorStatusCancelled, true); err != nil {
		return err
	}
	s.repo.LogEvent(models.EventAdminAction, map[string]interface{}{
		"action":   "force_revoke",
		"donor_id": donorID,
	})
	return nil
}
