package transport

import (
	"net/url"
	"strings"
)

// JoinBaseAndPath 拼接配置的基础地址和候选路径。
// 基础地址末尾的路径段和候选路径开头的路径段如有重叠
// （最长匹配、大小写不敏感），重叠部分只保留一份：
//
//	JoinBaseAndPath("https://x.test/api/v1", "/api/v1/invitations")
//	  => "https://x.test/api/v1/invitations"
func JoinBaseAndPath(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = strings.TrimSpace(path)
	if path == "" {
		return base
	}

	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		// 基础地址解析不了就直接拼
		return base + "/" + strings.TrimLeft(path, "/")
	}

	baseSegs := splitSegments(parsed.Path)
	pathSegs := splitSegments(path)

	overlap := 0
	max := len(baseSegs)
	if len(pathSegs) < max {
		max = len(pathSegs)
	}
	for k := max; k > 0; k-- {
		if segmentsEqualFold(baseSegs[len(baseSegs)-k:], pathSegs[:k]) {
			overlap = k
			break
		}
	}

	remaining := pathSegs[overlap:]
	joined := parsed.Scheme + "://" + parsed.Host
	all := append(append([]string{}, baseSegs...), remaining...)
	if len(all) > 0 {
		joined += "/" + strings.Join(all, "/")
	}
	return joined
}

// StripAPIPath 去掉基础地址末尾的 /api/... 段，得到门户的站点源，
// 用于在响应缺少邀请链接时自行合成。
func StripAPIPath(base string) string {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}
	segs := splitSegments(parsed.Path)
	for i, seg := range segs {
		if strings.EqualFold(seg, "api") {
			segs = segs[:i]
			break
		}
	}
	origin := parsed.Scheme + "://" + parsed.Host
	if len(segs) > 0 {
		origin += "/" + strings.Join(segs, "/")
	}
	return origin
}

func splitSegments(p string) []string {
	var segs []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

func segmentsEqualFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
