package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"regexp"
	"strings"
)

// librarySection 服务器上的一个资料库分区
type librarySection struct {
	ID    string
	Key   string
	Title string
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// resolveSectionIDs 资料库分区重映射：用户按自己的 id 配置资料库，
// Plex 只认它自己的整数分区 id。拉取分区目录后，
// 用 {原始值, 归一化值, 末尾数字} 三种键建映射，把请求的 id 翻译过去。
// 目录里不存在的请求 id 丢弃；一个都没请求时默认放开全部分区，
// 但凡请求了就只给匹配上的，一个都没匹配上宁可共享零个分区。
func (a *Adapter) resolveSectionIDs(ctx context.Context, desc *ServerDescriptor, requested []string) ([]string, error) {
	sections, err := a.fetchSections(ctx, desc)
	if err != nil {
		return nil, err
	}

	index := make(map[string]string)
	var catalog []string
	for _, sec := range sections {
		if sec.ID == "" {
			continue
		}
		catalog = append(catalog, sec.ID)
		for _, key := range sectionKeys(sec) {
			if key != "" {
				index[key] = sec.ID
			}
		}
	}

	if len(requested) == 0 {
		requested = a.cfg.LibrarySectionIDs
	}
	if len(requested) == 0 {
		return catalog, nil
	}

	var resolved []string
	seen := make(map[string]bool)
	for _, want := range requested {
		for _, key := range lookupKeys(want) {
			if id, ok := index[key]; ok && !seen[id] {
				seen[id] = true
				resolved = append(resolved, id)
				break
			}
		}
	}

	return resolved, nil
}

// sectionKeys 一个分区可被匹配到的全部键
func sectionKeys(sec librarySection) []string {
	keys := []string{
		sec.ID,
		NormalizeServerID(sec.ID),
		sec.Key,
		NormalizeServerID(sec.Key),
		NormalizeServerID(sec.Title),
	}
	if m := trailingDigits.FindString(sec.Key); m != "" {
		keys = append(keys, m)
	}
	return keys
}

// lookupKeys 请求值的候选形态：原始、归一化、末尾数字
func lookupKeys(want string) []string {
	want = strings.TrimSpace(want)
	keys := []string{want, NormalizeServerID(want)}
	if m := trailingDigits.FindString(want); m != "" {
		keys = append(keys, m)
	}
	return keys
}

// fetchSections 拉取服务器的分区目录（JSON/XML 均可）
func (a *Adapter) fetchSections(ctx context.Context, desc *ServerDescriptor) ([]librarySection, error) {
	resp, err := a.tp.Request(ctx, http.MethodGet,
		[]string{a.tokenURL("/api/servers/" + desc.MachineIdentifier)}, nil, "")
	if err != nil {
		return nil, unreachable(err)
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, unauthorized(resp.Status)
	}
	if !resp.IsOK() {
		return nil, requestFailed(resp)
	}

	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return parseSectionsJSON(trimmed)
	}
	return parseSectionsXML(trimmed)
}

func parseSectionsJSON(body []byte) ([]librarySection, error) {
	var wrapper map[string]interface{}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, err
	}
	var sections []librarySection
	for _, key := range []string{"sections", "libraries", "Section"} {
		items, ok := wrapper[key].([]interface{})
		if !ok {
			continue
		}
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				sections = append(sections, librarySection{
					ID:    jsonString(m, "id"),
					Key:   jsonString(m, "key"),
					Title: jsonString(m, "title"),
				})
			}
		}
		break
	}
	return sections, nil
}

func parseSectionsXML(body []byte) ([]librarySection, error) {
	var container struct {
		Servers []struct {
			Sections []struct {
				ID    string `xml:"id,attr"`
				Key   string `xml:"key,attr"`
				Title string `xml:"title,attr"`
			} `xml:"Section"`
		} `xml:"Server"`
		Sections []struct {
			ID    string `xml:"id,attr"`
			Key   string `xml:"key,attr"`
			Title string `xml:"title,attr"`
		} `xml:"Section"`
	}
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, err
	}

	var sections []librarySection
	for _, srv := range container.Servers {
		for _, sec := range srv.Sections {
			sections = append(sections, librarySection{ID: sec.ID, Key: sec.Key, Title: sec.Title})
		}
	}
	for _, sec := range container.Sections {
		sections = append(sections, librarySection{ID: sec.ID, Key: sec.Key, Title: sec.Title})
	}
	return sections, nil
}
