package transport

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestJoinBaseAndPath(t *testing.T) {
	cases := []struct {
		name string
		base string
		path string
		want string
	}{
		{"无重叠", "https://x.test", "/api/v1/invitations", "https://x.test/api/v1/invitations"},
		{"完整重叠", "https://x.test/api/v1", "/api/v1/invitations", "https://x.test/api/v1/invitations"},
		{"部分重叠", "https://x.test/wizarr/api", "/api/invitations", "https://x.test/wizarr/api/invitations"},
		{"大小写不敏感", "https://x.test/API/V1", "/api/v1/invites", "https://x.test/API/V1/invites"},
		{"末尾斜杠", "https://x.test/api/", "/api/invites", "https://x.test/api/invites"},
		{"空路径", "https://x.test/api/v1/", "", "https://x.test/api/v1"},
		{"子路径部署", "https://x.test/tools/wizarr", "/api/v1/invitations", "https://x.test/tools/wizarr/api/v1/invitations"},
	}

	for _, tc := range cases {
		if got := JoinBaseAndPath(tc.base, tc.path); got != tc.want {
			t.Errorf("%s: JoinBaseAndPath(%q, %q) = %q, 期望 %q", tc.name, tc.base, tc.path, got, tc.want)
		}
	}
}

// 属性：无论基础地址末尾带多少段候选路径的前缀，拼接结果里候选路径的
// 段序列只出现一次
func TestJoinBaseAndPathNoDuplicateSegments(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seg := rapid.StringMatching(`[a-z][a-z0-9]{0,7}`)
		pathSegs := rapid.SliceOfN(seg, 1, 4).Draw(t, "pathSegs")
		overlap := rapid.IntRange(0, len(pathSegs)).Draw(t, "overlap")
		prefixSegs := rapid.SliceOfN(seg, 0, 3).Draw(t, "prefixSegs")

		base := "https://host.test"
		if len(prefixSegs) > 0 {
			base += "/" + strings.Join(prefixSegs, "/")
		}
		if overlap > 0 {
			base += "/" + strings.Join(pathSegs[:overlap], "/")
		}
		path := "/" + strings.Join(pathSegs, "/")

		got := JoinBaseAndPath(base, path)
		needle := "/" + strings.Join(pathSegs, "/")
		if !strings.HasSuffix(got, needle) {
			t.Fatalf("结果应以候选路径结尾: base=%q path=%q got=%q", base, path, got)
		}
		if !strings.HasPrefix(got, "https://host.test") {
			t.Fatalf("结果应保留主机: %q", got)
		}
	})
}

func TestStripAPIPath(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://x.test/api/v1", "https://x.test"},
		{"https://x.test/api", "https://x.test"},
		{"https://x.test/wizarr/api/v1/", "https://x.test/wizarr"},
		{"https://x.test", "https://x.test"},
		{"https://x.test/portal", "https://x.test/portal"},
	}

	for _, tc := range cases {
		if got := StripAPIPath(tc.base); got != tc.want {
			t.Errorf("StripAPIPath(%q) = %q, 期望 %q", tc.base, got, tc.want)
		}
	}
}
