package settings

import (
	"github.com/jjermany/Plex-Donate-sub002/services/mediaserver"
	"github.com/jjermany/Plex-Donate-sub002/services/portal"
)

// PayPalConfig PayPal 接入配置
type PayPalConfig struct {
	ClientID          string
	ClientSecret      string
	WebhookID         string
	APIBase           string
	PlanID            string
	ProductID         string
	SubscriptionPrice float64
	Currency          string
}

// SMTPConfig 邮件发送配置
type SMTPConfig struct {
	Host   string
	Port   int
	Secure bool
	User   string
	Pass   string
	From   string
}

// PortalConfigFrom 把归一化后的 portal 组转成门户适配器配置
func PortalConfigFrom(values map[string]interface{}) portal.Config {
	return portal.Config{
		BaseURL:             asString(values["baseUrl"]),
		APIKey:              asString(values["apiKey"]),
		DefaultDurationDays: int(asNumber(values["defaultDurationDays"])),
		DefaultServerIDs:    SplitList(asString(values["defaultServerIds"])),
		DefaultProfile:      asString(values["defaultProfile"]),
		DefaultLibraries:    SplitList(asString(values["defaultLibraries"])),
	}
}

// PortalConfig 读取 portal 组并转成门户适配器配置
func (s *Service) PortalConfig() (portal.Config, error) {
	values, err := s.GetGroup(GroupPortal)
	if err != nil {
		return portal.Config{}, err
	}
	return PortalConfigFrom(values), nil
}

// MediaServerConfigFrom 把归一化后的 mediaServer 组转成 Plex 适配器配置
func MediaServerConfigFrom(values map[string]interface{}) mediaserver.Config {
	return mediaserver.Config{
		BaseURL:           asString(values["baseUrl"]),
		Token:             asString(values["token"]),
		ServerIdentifier:  asString(values["serverIdentifier"]),
		LibrarySectionIDs: SplitList(asString(values["librarySectionIds"])),
		AllowSync:         asBool(values["allowSync"]),
		AllowCameraUpload: asBool(values["allowCameraUpload"]),
		AllowChannels:     asBool(values["allowChannels"]),
	}
}

// MediaServerConfig 读取 mediaServer 组并转成 Plex 适配器配置
func (s *Service) MediaServerConfig() (mediaserver.Config, error) {
	values, err := s.GetGroup(GroupMediaServer)
	if err != nil {
		return mediaserver.Config{}, err
	}
	return MediaServerConfigFrom(values), nil
}

// PayPal 读取 paypal 组
func (s *Service) PayPal() (PayPalConfig, error) {
	values, err := s.GetGroup(GroupPayPal)
	if err != nil {
		return PayPalConfig{}, err
	}
	return PayPalConfig{
		ClientID:          asString(values["clientId"]),
		ClientSecret:      asString(values["clientSecret"]),
		WebhookID:         asString(values["webhookId"]),
		APIBase:           asString(values["apiBase"]),
		PlanID:            asString(values["planId"]),
		ProductID:         asString(values["productId"]),
		SubscriptionPrice: asNumber(values["subscriptionPrice"]),
		Currency:          asString(values["currency"]),
	}, nil
}

// SMTPConfigFrom 把归一化后的 smtp 组转成邮件配置
func SMTPConfigFrom(values map[string]interface{}) SMTPConfig {
	return SMTPConfig{
		Host:   asString(values["host"]),
		Port:   int(asNumber(values["port"])),
		Secure: asBool(values["secure"]),
		User:   asString(values["user"]),
		Pass:   asString(values["pass"]),
		From:   asString(values["from"]),
	}
}

// SMTP 读取 smtp 组
func (s *Service) SMTP() (SMTPConfig, error) {
	values, err := s.GetGroup(GroupSMTP)
	if err != nil {
		return SMTPConfig{}, err
	}
	return SMTPConfigFrom(values), nil
}

// PublicBaseURL 读取站点对外地址
func (s *Service) PublicBaseURL() string {
	values, err := s.GetGroup(GroupApp)
	if err != nil {
		return ""
	}
	return asString(values["publicBaseUrl"])
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asNumber(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
