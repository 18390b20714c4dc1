package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// resourceDevice 账户资源目录里的一台设备（JSON 或 XML 两种形态）
type resourceDevice struct {
	Name              string
	Product           string
	Provides          string
	ClientIdentifier  string
	MachineIdentifier string
	Owned             bool
}

// ResolveServer 两段式服务器发现：
//  1. 拉取账户资源目录（JSON/XML 均可），过滤 provides 含 "server"
//     且归当前 token 所有的设备，按归一化后的 UUID 匹配；
//     没匹配上且恰好只有一台自有设备时直接采用它。
//  2. 再拉服务器列表拿遗留数字 id（部分路径只认数字 id）。
//
// 结果按 (token, 配置 uuid) 缓存。
func (a *Adapter) ResolveServer(ctx context.Context) (*ServerDescriptor, error) {
	cacheMu.Lock()
	if desc, ok := serverDescCache[a.cacheKey()]; ok {
		cacheMu.Unlock()
		return desc, nil
	}
	cacheMu.Unlock()

	devices, err := a.fetchResources(ctx)
	if err != nil {
		return nil, err
	}

	var owned []resourceDevice
	for _, dev := range devices {
		if !strings.Contains(strings.ToLower(dev.Provides), "server") {
			continue
		}
		if !dev.Owned {
			continue
		}
		owned = append(owned, dev)
	}
	if len(owned) == 0 {
		return nil, transport.NewAdapterError(ErrKindRequestFailed,
			"当前 token 名下没有自有的 Plex 服务器")
	}

	want := NormalizeServerID(a.cfg.ServerIdentifier)
	var matched *resourceDevice
	for i := range owned {
		dev := &owned[i]
		if want != "" &&
			(NormalizeServerID(dev.ClientIdentifier) == want ||
				NormalizeServerID(dev.MachineIdentifier) == want) {
			matched = dev
			break
		}
	}
	if matched == nil {
		if len(owned) == 1 {
			// 配置的 UUID 没匹配上，但只有一台自有服务器，直接采用
			matched = &owned[0]
		} else {
			return nil, transport.NewAdapterError(ErrKindRequestFailed,
				fmt.Sprintf("配置的 serverIdentifier %q 没有匹配到任何自有服务器（共 %d 台）",
					a.cfg.ServerIdentifier, len(owned)))
		}
	}

	machineID := matched.ClientIdentifier
	if machineID == "" {
		machineID = matched.MachineIdentifier
	}

	desc := &ServerDescriptor{
		Name:              matched.Name,
		MachineIdentifier: machineID,
	}
	if legacyID, err := a.fetchLegacyID(ctx, machineID); err == nil {
		desc.LegacyID = legacyID
	}

	cacheMu.Lock()
	serverDescCache[a.cacheKey()] = desc
	cacheMu.Unlock()
	return desc, nil
}

// fetchResources 拉取账户资源目录，JSON 优先，XML 兜底
func (a *Adapter) fetchResources(ctx context.Context) ([]resourceDevice, error) {
	urls := []string{
		a.tokenURL("/api/v2/resources"),
		a.tokenURL("/api/resources"),
	}
	resp, err := a.tp.Request(ctx, http.MethodGet, urls, nil, "")
	if err != nil {
		return nil, unreachable(err)
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, unauthorized(resp.Status)
	}
	if !resp.IsOK() {
		return nil, requestFailed(resp)
	}

	devices, err := parseResources(resp.Body)
	if err != nil {
		return nil, transport.NewAdapterError(ErrKindRequestFailed,
			"资源目录解析失败: "+err.Error())
	}
	return devices, nil
}

// parseResources 资源目录既可能是 JSON 数组也可能是 XML MediaContainer
func parseResources(body []byte) ([]resourceDevice, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' || trimmed[0] == '{' {
		return parseResourcesJSON(trimmed)
	}
	return parseResourcesXML(trimmed)
}

func parseResourcesJSON(body []byte) ([]resourceDevice, error) {
	var rawList []map[string]interface{}
	if err := json.Unmarshal(body, &rawList); err != nil {
		// 有的版本包了一层对象
		var wrapper map[string]interface{}
		if err2 := json.Unmarshal(body, &wrapper); err2 != nil {
			return nil, err
		}
		for _, key := range []string{"devices", "resources", "Device"} {
			if items, ok := wrapper[key].([]interface{}); ok {
				for _, item := range items {
					if m, ok := item.(map[string]interface{}); ok {
						rawList = append(rawList, m)
					}
				}
				break
			}
		}
	}

	devices := make([]resourceDevice, 0, len(rawList))
	for _, raw := range rawList {
		devices = append(devices, resourceDevice{
			Name:              jsonString(raw, "name"),
			Product:           jsonString(raw, "product"),
			Provides:          jsonString(raw, "provides"),
			ClientIdentifier:  jsonString(raw, "clientIdentifier"),
			MachineIdentifier: jsonString(raw, "machineIdentifier"),
			Owned:             jsonBool(raw, "owned"),
		})
	}
	return devices, nil
}

func parseResourcesXML(body []byte) ([]resourceDevice, error) {
	var container struct {
		Devices []struct {
			Name              string `xml:"name,attr"`
			Product           string `xml:"product,attr"`
			Provides          string `xml:"provides,attr"`
			ClientIdentifier  string `xml:"clientIdentifier,attr"`
			MachineIdentifier string `xml:"machineIdentifier,attr"`
			Owned             string `xml:"owned,attr"`
		} `xml:"Device"`
	}
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, err
	}

	devices := make([]resourceDevice, 0, len(container.Devices))
	for _, dev := range container.Devices {
		devices = append(devices, resourceDevice{
			Name:              dev.Name,
			Product:           dev.Product,
			Provides:          dev.Provides,
			ClientIdentifier:  dev.ClientIdentifier,
			MachineIdentifier: dev.MachineIdentifier,
			Owned:             dev.Owned == "1" || strings.EqualFold(dev.Owned, "true"),
		})
	}
	return devices, nil
}

// fetchLegacyID 从账户服务器列表接口取遗留数字 id
func (a *Adapter) fetchLegacyID(ctx context.Context, machineID string) (string, error) {
	resp, err := a.tp.Request(ctx, http.MethodGet, []string{a.tokenURL("/api/servers")}, nil, "")
	if err != nil {
		return "", err
	}
	if !resp.IsOK() {
		return "", fmt.Errorf("服务器列表返回状态 %d", resp.Status)
	}

	want := NormalizeServerID(machineID)

	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var wrapper map[string]interface{}
		if err := json.Unmarshal(trimmed, &wrapper); err == nil {
			if items, ok := wrapper["servers"].([]interface{}); ok {
				for _, item := range items {
					if m, ok := item.(map[string]interface{}); ok {
						if NormalizeServerID(jsonString(m, "machineIdentifier")) == want {
							return jsonString(m, "id"), nil
						}
					}
				}
			}
		}
		return "", fmt.Errorf("服务器列表里没有 %s", machineID)
	}

	var container struct {
		Servers []struct {
			ID                string `xml:"id,attr"`
			MachineIdentifier string `xml:"machineIdentifier,attr"`
		} `xml:"Server"`
	}
	if err := xml.Unmarshal(trimmed, &container); err != nil {
		return "", err
	}
	for _, srv := range container.Servers {
		if NormalizeServerID(srv.MachineIdentifier) == want {
			return srv.ID, nil
		}
	}
	return "", fmt.Errorf("服务器列表里没有 %s", machineID)
}

// VerifyConnection 连通性检查：能完成服务器发现即视为配置正确
func (a *Adapter) VerifyConnection(ctx context.Context) *VerifyResult {
	desc, err := a.ResolveServer(ctx)
	if err != nil {
		msg := err.Error()
		if ae, ok := transport.AsAdapterError(err); ok {
			msg = ae.Message
		}
		return &VerifyResult{Status: "error", Message: msg}
	}
	return &VerifyResult{
		Status:  "ok",
		Message: fmt.Sprintf("已连接服务器 %q (%s)", desc.Name, desc.MachineIdentifier),
		Details: map[string]interface{}{"server": desc},
	}
}

// VerifyResult 连通性检查结果
type VerifyResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func jsonString(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", v), ".")
	}
	return ""
}

func jsonBool(m map[string]interface{}, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	}
	return false
}
