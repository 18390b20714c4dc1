package settings

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/jjermany/Plex-Donate-sub002/models"
)

// 配置组名称常量
const (
	GroupApp           = "app"
	GroupPayPal        = "paypal"
	GroupPortal        = "portal"
	GroupMediaServer   = "mediaServer"
	GroupSMTP          = "smtp"
	GroupAnnouncements = "announcements"
)

// 字段类型
type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
)

// fieldSpec 配置字段定义：类型决定强制转换规则，Secret 字段读取时打码
type fieldSpec struct {
	Key     string
	Kind    fieldKind
	Default interface{}
	Secret  bool
}

// 全部配置组的字段定义。不在这里的键一律忽略。
var groupSpecs = map[string][]fieldSpec{
	GroupApp: {
		{Key: "publicBaseUrl", Kind: kindString, Default: ""},
	},
	GroupPayPal: {
		{Key: "clientId", Kind: kindString, Default: ""},
		{Key: "clientSecret", Kind: kindString, Default: "", Secret: true},
		{Key: "webhookId", Kind: kindString, Default: ""},
		{Key: "apiBase", Kind: kindString, Default: "https://api-m.paypal.com"},
		{Key: "planId", Kind: kindString, Default: ""},
		{Key: "productId", Kind: kindString, Default: ""},
		{Key: "subscriptionPrice", Kind: kindNumber, Default: float64(0)},
		{Key: "currency", Kind: kindString, Default: "USD"},
	},
	GroupPortal: {
		{Key: "baseUrl", Kind: kindString, Default: ""},
		{Key: "apiKey", Kind: kindString, Default: "", Secret: true},
		{Key: "defaultDurationDays", Kind: kindNumber, Default: float64(30)},
		{Key: "defaultServerIds", Kind: kindString, Default: ""},
		{Key: "defaultProfile", Kind: kindString, Default: ""},
		{Key: "defaultLibraries", Kind: kindString, Default: ""},
	},
	GroupMediaServer: {
		{Key: "baseUrl", Kind: kindString, Default: "https://plex.tv"},
		{Key: "token", Kind: kindString, Default: "", Secret: true},
		{Key: "serverIdentifier", Kind: kindString, Default: ""},
		{Key: "librarySectionIds", Kind: kindString, Default: ""},
		{Key: "allowSync", Kind: kindBool, Default: false},
		{Key: "allowCameraUpload", Kind: kindBool, Default: false},
		{Key: "allowChannels", Kind: kindBool, Default: false},
	},
	GroupSMTP: {
		{Key: "host", Kind: kindString, Default: ""},
		{Key: "port", Kind: kindNumber, Default: float64(587)},
		{Key: "secure", Kind: kindBool, Default: true},
		{Key: "user", Kind: kindString, Default: ""},
		{Key: "pass", Kind: kindString, Default: "", Secret: true},
		{Key: "from", Kind: kindString, Default: ""},
	},
	GroupAnnouncements: {
		{Key: "enabled", Kind: kindBool, Default: false},
		{Key: "title", Kind: kindString, Default: ""},
		{Key: "message", Kind: kindString, Default: ""},
		{Key: "level", Kind: kindString, Default: "info"},
		{Key: "linkUrl", Kind: kindString, Default: ""},
	},
}

// Service 配置存储：按组读写 settings 表，读写时统一归一化
type Service struct {
	db      *gorm.DB
	hooksMu sync.Mutex
	hooks   []func(group string)
}

// NewService 创建配置服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// OnChange 注册配置变更回调（适配器缓存在这里被重置）
func (s *Service) OnChange(fn func(group string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Service) fireChange(group string) {
	s.hooksMu.Lock()
	hooks := append([]func(string){}, s.hooks...)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(group)
	}
}

// KnownGroup 是否是已定义的配置组
func KnownGroup(group string) bool {
	_, ok := groupSpecs[group]
	return ok
}

// GetGroup 读取一个配置组（归一化后的完整字段集）
func (s *Service) GetGroup(group string) (map[string]interface{}, error) {
	specs, ok := groupSpecs[group]
	if !ok {
		return nil, fmt.Errorf("未知的配置组: %s", group)
	}

	var rows []models.Setting
	if err := s.db.Where("group_name = ?", group).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("读取配置组 %s 失败: %w", group, err)
	}

	raw := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		raw[row.Key] = row.Value
	}
	return NormalizeGroup(specs, raw), nil
}

// GetGroupMasked 读取配置组并对敏感字段打码（后台展示用）
func (s *Service) GetGroupMasked(group string) (map[string]interface{}, error) {
	values, err := s.GetGroup(group)
	if err != nil {
		return nil, err
	}
	for _, spec := range groupSpecs[group] {
		if spec.Secret {
			if v, ok := values[spec.Key].(string); ok && v != "" {
				values[spec.Key] = "********"
			}
		}
	}
	return values, nil
}

// UpdateGroup 归一化后写入一个配置组。未知键忽略；
// 敏感字段传空串或打码值表示"保持不变"。写入成功后触发变更回调。
func (s *Service) UpdateGroup(group string, input map[string]interface{}) (map[string]interface{}, error) {
	specs, ok := groupSpecs[group]
	if !ok {
		return nil, fmt.Errorf("未知的配置组: %s", group)
	}

	current, err := s.GetGroup(group)
	if err != nil {
		return nil, err
	}

	for _, spec := range specs {
		rawVal, present := input[spec.Key]
		if !present {
			continue
		}
		if spec.Secret {
			str, _ := rawVal.(string)
			if str == "" || str == "********" {
				continue
			}
		}
		current[spec.Key] = coerce(spec, rawVal)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, spec := range specs {
			value := stringify(spec, current[spec.Key])
			row := models.Setting{GroupName: group, Key: spec.Key, Value: value}
			res := tx.Model(&models.Setting{}).
				Where("group_name = ? AND setting_key = ?", group, spec.Key).
				Update("value", value)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("写入配置组 %s 失败: %w", group, err)
	}

	s.fireChange(group)
	return current, nil
}

// PreviewWithOverrides 当前配置叠加 override 后归一化，不落库。
// 连通性测试用：管理员还没保存的表单值直接参与测试，
// 敏感字段传空串或打码值沿用已存的。
func (s *Service) PreviewWithOverrides(group string, overrides map[string]interface{}) (map[string]interface{}, error) {
	specs, ok := groupSpecs[group]
	if !ok {
		return nil, fmt.Errorf("未知的配置组: %s", group)
	}
	current, err := s.GetGroup(group)
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		rawVal, present := overrides[spec.Key]
		if !present {
			continue
		}
		if spec.Secret {
			str, _ := rawVal.(string)
			if str == "" || str == "********" {
				continue
			}
		}
		current[spec.Key] = coerce(spec, rawVal)
	}
	return current, nil
}

// PreviewGroup 只做归一化不落库（后台连通性测试带 override 设置时用）
func PreviewGroup(group string, input map[string]interface{}) (map[string]interface{}, error) {
	specs, ok := groupSpecs[group]
	if !ok {
		return nil, fmt.Errorf("未知的配置组: %s", group)
	}
	return NormalizeGroup(specs, input), nil
}

// NormalizeGroup 对一组原始值应用强制转换规则，缺失的键取默认值
func NormalizeGroup(specs []fieldSpec, raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(specs))
	for _, spec := range specs {
		val, ok := raw[spec.Key]
		if !ok {
			out[spec.Key] = spec.Default
			continue
		}
		out[spec.Key] = coerce(spec, val)
	}
	return out
}

// coerce 单字段强制转换：
// 数字接受字符串形式但拒绝空白；布尔接受 true/false/1/0/yes/no/on/off
// （大小写不敏感）；字符串去首尾空白。转换失败一律退回默认值。
func coerce(spec fieldSpec, val interface{}) interface{} {
	switch spec.Kind {
	case kindNumber:
		switch v := val.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				return spec.Default
			}
			if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
				return n
			}
			return spec.Default
		default:
			return spec.Default
		}
	case kindBool:
		switch v := val.(type) {
		case bool:
			return v
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "on":
				return true
			case "false", "0", "no", "off":
				return false
			}
			return spec.Default
		case float64:
			return v != 0
		default:
			return spec.Default
		}
	default:
		switch v := val.(type) {
		case string:
			return strings.TrimSpace(v)
		case nil:
			return spec.Default
		default:
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
}

// stringify 把归一化后的值编码为落库的字符串
func stringify(spec fieldSpec, val interface{}) string {
	switch spec.Kind {
	case kindNumber:
		f, _ := val.(float64)
		return strconv.FormatFloat(f, 'f', -1, 64)
	case kindBool:
		b, _ := val.(bool)
		return strconv.FormatBool(b)
	default:
		s, _ := val.(string)
		return s
	}
}

// SplitList 逗号分隔的配置值拆成列表
func SplitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
