package mail

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/jordan-wright/email"

	"github.com/jjermany/Plex-Donate-sub002/services/settings"
)

// MailService 邮件通知服务。SMTP 参数每次发信时从配置存储现读，
// 后台改完配置立即生效。
type MailService struct {
	settings *settings.Service
	// 用于防止短时间内重复发送相同邮件
	sentMails sync.Map
}

// NewMailService 创建邮件服务
func NewMailService(settingsService *settings.Service) *MailService {
	return &MailService{settings: settingsService}
}

// shouldRetry 判断是否应该重试
func (s *MailService) shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "i/o timeout")
}

// preventDuplicateSend 防止短时间内重复发送相同邮件（5分钟窗口）
func (s *MailService) preventDuplicateSend(mailKey string) bool {
	key := fmt.Sprintf("%s_%d", mailKey, time.Now().Unix()/300)
	_, loaded := s.sentMails.LoadOrStore(key, true)
	go func() {
		time.Sleep(5 * time.Minute)
		s.sentMails.Delete(key)
	}()
	return !loaded
}

// sendMailInternal 内部邮件发送函数
func (s *MailService) sendMailInternal(cfg settings.SMTPConfig, e *email.Email) error {
	if cfg.Host == "" {
		return fmt.Errorf("smtp 配置未填写 host")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	auth := smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)

	tlsConfig := &tls.Config{
		ServerName: cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	// 只允许特定端口和协议组合，避免自动切换
	if cfg.Secure {
		switch cfg.Port {
		case 465:
			// 465 端口只允许 SSL/TLS
			return e.SendWithTLS(addr, auth, tlsConfig)
		case 587:
			// 587 端口只允许 STARTTLS
			return e.SendWithStartTLS(addr, auth, tlsConfig)
		default:
			return fmt.Errorf("不支持的端口和TLS组合: 端口%d secure=%v", cfg.Port, cfg.Secure)
		}
	}
	// 非加密，通常只用于 25 端口
	if cfg.Port == 25 {
		return e.Send(addr, auth)
	}
	return fmt.Errorf("不支持的端口和非TLS组合: 端口%d secure=%v", cfg.Port, cfg.Secure)
}

// SendMail 发送 HTML 邮件
func (s *MailService) SendMail(to string, subject string, content string) error {
	cfg, err := s.settings.SMTP()
	if err != nil {
		return fmt.Errorf("读取 smtp 配置失败: %w", err)
	}

	keyContent := content
	if len(keyContent) > 20 {
		keyContent = keyContent[:20]
	}
	mailKey := fmt.Sprintf("%s_%s_%s", to, subject, keyContent)
	if !s.preventDuplicateSend(mailKey) {
		return fmt.Errorf("检测到重复发送请求，已跳过")
	}

	e := email.NewEmail()
	e.From = cfg.From
	e.To = []string{to}
	e.Subject = subject
	e.HTML = []byte(content)

	err = s.sendMailInternal(cfg, e)
	if err != nil && s.shouldRetry(err) {
		// 仅对特定错误进行一次重试
		time.Sleep(2 * time.Second)
		err = s.sendMailInternal(cfg, e)
	}
	if isShortResponseError(err) {
		// 记录警告，但视为成功
		fmt.Printf("[邮件警告] 发送成功但响应异常: %v\n", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("发送邮件失败: %v", err)
	}
	return nil
}

// SendInviteMail 把邀请链接发给受邀人
func (s *MailService) SendInviteMail(to, inviteCode, inviteURL string, expiresAt *time.Time) error {
	const inviteTemplate = `
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h2 style="color: #333;">Plex 邀请已就绪</h2>
		<p style="font-size: 16px; line-height: 1.5;">您好：</p>
		<p style="font-size: 16px; line-height: 1.5;">感谢您的支持，您的 Plex 访问邀请已准备就绪：</p>
		<div style="background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px;">
			<p style="font-size: 24px; font-weight: bold; text-align: center; color: #007bff;">{{.Code}}</p>
		</div>
		<p style="font-size: 15px; line-height: 1.5;">点击下面的链接完成接入：</p>
		<p style="text-align: center;"><a href="{{.URL}}" style="font-size: 16px;">{{.URL}}</a></p>
		{{if .ExpiresAt}}
		<p style="font-size: 14px; color: #666;">请注意：此邀请将在 {{.ExpiresAt}} 过期。</p>
		{{end}}
		<p style="font-size: 12px; color: #999; margin-top: 20px;">此邮件由系统自动发送，请勿回复。</p>
	</div>
	`

	data := struct {
		Code      string
		URL       string
		ExpiresAt string
	}{
		Code: inviteCode,
		URL:  inviteURL,
	}
	if expiresAt != nil {
		data.ExpiresAt = expiresAt.Format("2006-01-02 15:04:05")
	}

	tmpl, err := template.New("invite").Parse(inviteTemplate)
	if err != nil {
		return fmt.Errorf("解析邀请邮件模板失败: %v", err)
	}
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("生成邀请邮件内容失败: %v", err)
	}

	return s.SendMail(to, "您的 Plex 邀请已就绪", body.String())
}

// SendTestMail 发送一封测试邮件验证 smtp 配置
func (s *MailService) SendTestMail(to string) error {
	return s.SendMail(to, "测试邮件", `
		<h2>邮件发送测试</h2>
		<p>这是一封测试邮件，用于验证邮件服务配置是否正确。</p>
		<p>如果您收到这封邮件，说明邮件服务配置成功！</p>
	`)
}

// SendTestMailWith 用一组覆盖配置发送测试邮件（后台连通性测试用）
func (s *MailService) SendTestMailWith(cfg settings.SMTPConfig, to string) error {
	e := email.NewEmail()
	e.From = cfg.From
	e.To = []string{to}
	e.Subject = "测试邮件"
	e.HTML = []byte(`<p>这是一封测试邮件，用于验证邮件服务配置是否正确。</p>`)

	err := s.sendMailInternal(cfg, e)
	if isShortResponseError(err) {
		return nil
	}
	return err
}

func isShortResponseError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "short response") ||
		strings.Contains(err.Error(), "\x00\x00\x00")
}
