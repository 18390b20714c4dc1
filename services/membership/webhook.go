package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// PayPal webhook 事件类型
const (
	EventSubscriptionCreated   = "BILLING.SUBSCRIPTION.CREATED"
	EventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	EventPaymentSaleCompleted  = "PAYMENT.SALE.COMPLETED"
)

// WebhookEvent 解析后的 PayPal 事件
type WebhookEvent struct {
	ID         string
	Type       string
	CreateTime time.Time
	Resource   map[string]interface{}
	Raw        json.RawMessage
}

// ParseWebhookEvent 解析 PayPal 推送的事件体
func ParseWebhookEvent(raw []byte) (*WebhookEvent, error) {
	var parsed struct {
		ID         string                 `json:"id"`
		EventType  string                 `json:"event_type"`
		CreateTime string                 `json:"create_time"`
		Resource   map[string]interface{} `json:"resource"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("webhook 事件体解析失败: %w", err)
	}
	if parsed.EventType == "" {
		return nil, fmt.Errorf("webhook 事件缺少 event_type")
	}

	evt := &WebhookEvent{
		ID:       parsed.ID,
		Type:     parsed.EventType,
		Resource: parsed.Resource,
		Raw:      json.RawMessage(raw),
	}
	if t, err := time.Parse(time.RFC3339, parsed.CreateTime); err == nil {
		evt.CreateTime = t
	} else {
		evt.CreateTime = time.Now()
	}
	return evt, nil
}

// SubscriptionID 事件涉及的订阅 id：
// 订阅事件在 resource.id，支付事件在 billing_agreement_id。
func (e *WebhookEvent) SubscriptionID() string {
	if e.Type == EventPaymentSaleCompleted {
		return resourceString(e.Resource, "billing_agreement_id")
	}
	return resourceString(e.Resource, "id")
}

// PayerEmail 事件里能挖到的付款人邮箱
func (e *WebhookEvent) PayerEmail() string {
	if email := nestedResourceString(e.Resource, "subscriber", "email_address"); email != "" {
		return email
	}
	if payer, ok := e.Resource["payer"].(map[string]interface{}); ok {
		if email := nestedResourceString(payer, "payer_info", "email"); email != "" {
			return email
		}
	}
	return resourceString(e.Resource, "payer_email")
}

// PayerName 事件里的付款人称呼
func (e *WebhookEvent) PayerName() string {
	if sub, ok := e.Resource["subscriber"].(map[string]interface{}); ok {
		if name, ok := sub["name"].(map[string]interface{}); ok {
			given := resourceString(name, "given_name")
			surname := resourceString(name, "surname")
			if given != "" && surname != "" {
				return given + " " + surname
			}
			if given != "" {
				return given
			}
		}
	}
	return ""
}

// eventClock 每个订阅记住已处理事件的最新 PayPal 时间戳。
// 乱序投递时旧事件不再改状态，但台账照记。
type eventClock struct {
	mu     sync.Mutex
	latest map[string]time.Time
}

func newEventClock() *eventClock {
	return &eventClock{latest: make(map[string]time.Time)}
}

// advance 推进订阅的事件时钟；事件不比已见的新时返回 false
func (c *eventClock) advance(subscriptionID string, at time.Time) bool {
	if subscriptionID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if seen, ok := c.latest[subscriptionID]; ok && !at.After(seen) {
		return false
	}
	c.latest[subscriptionID] = at
	return true
}

// advanceClock 事件时钟双重校验：会员上持久化的事件时间
// 挡住重启后乱序重投的旧事件，内存时钟挡住同进程内的竞态。
// 通过后新时间戳立即落库。
func (s *Service) advanceClock(donor *models.Donor, evt *WebhookEvent) bool {
	if donor.LastEventAt != nil && !evt.CreateTime.After(*donor.LastEventAt) {
		return false
	}
	if !s.seen.advance(evt.SubscriptionID(), evt.CreateTime) {
		return false
	}
	if err := s.repo.UpdateDonorLastEventAt(donor.ID, evt.CreateTime); err != nil {
		utils.LogWarn(fmt.Sprintf("记录会员 %d 事件时间失败: %v", donor.ID, err))
	}
	at := evt.CreateTime
	donor.LastEventAt = &at
	return true
}

// ProcessWebhook 执行状态机。任何分支都先落审计事件；
// 处理失败只记日志，HTTP 层始终回 200 防止 PayPal 重投风暴。
func (s *Service) ProcessWebhook(ctx context.Context, evt *WebhookEvent) {
	s.repo.LogEvent(models.EventWebhookReceived, map[string]interface{}{
		"event_id":        evt.ID,
		"event_type":      evt.Type,
		"subscription_id": evt.SubscriptionID(),
		"digest":          utils.PayloadDigest(evt.Raw),
	})

	var err error
	switch evt.Type {
	case EventSubscriptionCreated:
		err = s.handleSubscriptionCreated(ctx, evt)
	case EventSubscriptionActivated:
		err = s.handleActivation(ctx, evt, nil)
	case EventPaymentSaleCompleted:
		err = s.handlePaymentCompleted(ctx, evt)
	case EventSubscriptionSuspended:
		err = s.handleDeactivation(ctx, evt, models.DonorStatusSuspended, false)
	case EventSubscriptionCancelled:
		err = s.handleDeactivation(ctx, evt, models.DonorStatusCancelled, true)
	case EventSubscriptionExpired:
		err = s.handleDeactivation(ctx, evt, models.DonorStatusExpired, true)
	default:
		s.repo.LogEvent(models.EventWebhookIgnored, map[string]interface{}{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		})
		return
	}

	if err != nil {
		utils.LogError(fmt.Sprintf("处理 webhook 事件 %s (%s) 失败", evt.ID, evt.Type), err)
		s.repo.LogEvent(models.EventWebhookError, map[string]interface{}{
			"event_id":   evt.ID,
			"event_type": evt.Type,
			"error":      err.Error(),
		})
	}
}

// matchDonor 先按订阅 id、再按付款人邮箱定位会员
func (s *Service) matchDonor(evt *WebhookEvent) (*models.Donor, error) {
	if subID := evt.SubscriptionID(); subID != "" {
		donor, err := s.repo.GetDonorBySubscriptionID(subID)
		if err == nil {
			return donor, nil
		}
		if err != repository.ErrNotFound {
			return nil, err
		}
	}
	if email := evt.PayerEmail(); email != "" {
		donor, err := s.repo.GetDonorByEmail(email)
		if err == nil {
			return donor, nil
		}
		if err != repository.ErrNotFound {
			return nil, err
		}
	}
	return nil, repository.ErrNotFound
}

// handleSubscriptionCreated 未知订阅带邮箱时先建一个 pending 会员占位
func (s *Service) handleSubscriptionCreated(ctx context.Context, evt *WebhookEvent) error {
	donor, err := s.matchDonor(evt)
	if err == nil {
		if subID := evt.SubscriptionID(); subID != "" && (donor.SubscriptionID == nil || *donor.SubscriptionID != subID) {
			return s.repo.UpdateDonorSubscriptionID(donor.ID, subID)
		}
		return nil
	}
	if err != repository.ErrNotFound {
		return err
	}
	return s.createPendingDonor(evt)
}

func (s *Service) createPendingDonor(evt *WebhookEvent) error {
	email := evt.PayerEmail()
	if email == "" {
		s.repo.LogEvent(models.EventWebhookIgnored, map[string]interface{}{
			"event_id":   evt.ID,
			"event_type": evt.Type,
			"reason":     "未知订阅且事件不带邮箱",
		})
		return nil
	}
	donor := &models.Donor{
		Email:  email,
		Name:   evt.PayerName(),
		Status: models.DonorStatusPending,
	}
	if subID := evt.SubscriptionID(); subID != "" {
		donor.SubscriptionID = &subID
	}
	return s.repo.CreateDonor(donor)
}

// handleActivation 订阅生效：状态转 active 并确保有生效邀请
func (s *Service) handleActivation(ctx context.Context, evt *WebhookEvent, paymentAt *time.Time) error {
	donor, err := s.matchDonor(evt)
	if err == repository.ErrNotFound {
		if err := s.createPendingDonor(evt); err != nil {
			return err
		}
		donor, err = s.matchDonor(evt)
		if err != nil {
			return nil // 事件不带邮箱，已记 ignored
		}
	} else if err != nil {
		return err
	}

	if subID := evt.SubscriptionID(); subID != "" && (donor.SubscriptionID == nil || *donor.SubscriptionID != subID) {
		if err := s.repo.UpdateDonorSubscriptionID(donor.ID, subID); err != nil {
			return err
		}
	}
	if !s.advanceClock(donor, evt) {
		return nil
	}
	return s.ActivateDonor(ctx, donor, paymentAt)
}

// handlePaymentCompleted 收款：记台账，会员转 active
func (s *Service) handlePaymentCompleted(ctx context.Context, evt *WebhookEvent) error {
	donor, err := s.matchDonor(evt)
	if err == repository.ErrNotFound {
		s.repo.LogEvent(models.EventWebhookIgnored, map[string]interface{}{
			"event_id": evt.ID,
			"reason":   "收款事件匹配不到会员",
		})
		return nil
	}
	if err != nil {
		return err
	}

	paymentAt := evt.CreateTime
	payment := &models.Payment{
		DonorID:       donor.ID,
		TransactionID: resourceString(evt.Resource, "id"),
		Status:        resourceString(evt.Resource, "state"),
		OccurredAt:    paymentAt,
	}
	if amount, ok := evt.Resource["amount"].(map[string]interface{}); ok {
		payment.Amount = resourceNumber(amount, "total")
		payment.Currency = resourceString(amount, "currency")
	}
	if payment.TransactionID != "" {
		if err := s.repo.CreatePayment(payment); err != nil {
			return err
		}
	}

	if !s.advanceClock(donor, evt) {
		return nil
	}
	return s.ActivateDonor(ctx, donor, &paymentAt)
}

// handleDeactivation 订阅暂停/取消/过期：收回邀请，按需撤媒体服务器用户
func (s *Service) handleDeactivation(ctx context.Context, evt *WebhookEvent, status string, revokeMediaUser bool) error {
	donor, err := s.matchDonor(evt)
	if err == repository.ErrNotFound {
		s.repo.LogEvent(models.EventWebhookIgnored, map[string]interface{}{
			"event_id":   evt.ID,
			"event_type": evt.Type,
			"reason":     "匹配不到会员",
		})
		return nil
	}
	if err != nil {
		return err
	}

	// SUSPENDED 只对 active 会员生效
	if status == models.DonorStatusSuspended && donor.Status != models.DonorStatusActive {
		return nil
	}
	if !s.advanceClock(donor, evt) {
		return nil
	}
	return s.DeactivateDonor(ctx, donor, status, revokeMediaUser)
}

func resourceString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func nestedResourceString(m map[string]interface{}, outer, inner string) string {
	if m == nil {
		return ""
	}
	if nested, ok := m[outer].(map[string]interface{}); ok {
		return resourceString(nested, inner)
	}
	return ""
}

func resourceNumber(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}
