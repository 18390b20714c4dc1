package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewGroupNumberCoercion(t *testing.T) {
	cases := []struct {
		name  string
		input interface{}
		want  float64
	}{
		{"数字原样", float64(465), 465},
		{"整数转浮点", 25, 25},
		{"字符串数字", "2525", 2525},
		{"字符串零", "0", 0},
		{"带空白的字符串", " 587 ", 587},
		{"空串退默认", "", 587},
		{"非数字退默认", "abc", 587},
		{"纯空白退默认", "   ", 587},
		{"类型不符退默认", []string{"x"}, 587},
	}

	for _, tc := range cases {
		values, err := PreviewGroup(GroupSMTP, map[string]interface{}{"port": tc.input})
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, values["port"], tc.name)
	}
}

func TestPreviewGroupBoolCoercion(t *testing.T) {
	cases := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{false, false},
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"On", true},
		{"false", false},
		{"0", false},
		{"No", false},
		{"OFF", false},
		{float64(1), true},
		{float64(0), false},
		// 识别不了的字符串退默认（smtp.secure 默认 true）
		{"maybe", true},
		{"", true},
	}

	for _, tc := range cases {
		values, err := PreviewGroup(GroupSMTP, map[string]interface{}{"secure": tc.input})
		require.NoError(t, err)
		assert.Equal(t, tc.want, values["secure"], "输入 %#v", tc.input)
	}
}

func TestPreviewGroupStringCoercion(t *testing.T) {
	values, err := PreviewGroup(GroupPortal, map[string]interface{}{
		"baseUrl": "  https://wizarr.test  ",
		"apiKey":  "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://wizarr.test", values["baseUrl"])

	// nil 退默认
	values, err = PreviewGroup(GroupMediaServer, map[string]interface{}{"baseUrl": nil})
	require.NoError(t, err)
	assert.Equal(t, "https://plex.tv", values["baseUrl"])
}

func TestPreviewGroupUnknownKeysIgnored(t *testing.T) {
	values, err := PreviewGroup(GroupApp, map[string]interface{}{
		"publicBaseUrl": "https://donate.example",
		"bogus":         "whatever",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://donate.example", values["publicBaseUrl"])
	_, present := values["bogus"]
	assert.False(t, present, "未定义的键不应出现在归一化结果里")
}

func TestPreviewGroupFillsDefaults(t *testing.T) {
	values, err := PreviewGroup(GroupPortal, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, float64(30), values["defaultDurationDays"])
	assert.Equal(t, "", values["baseUrl"])

	_, err = PreviewGroup("noSuchGroup", nil)
	assert.Error(t, err)
}

func TestKnownGroup(t *testing.T) {
	for _, group := range []string{GroupApp, GroupPayPal, GroupPortal, GroupMediaServer, GroupSMTP, GroupAnnouncements} {
		assert.True(t, KnownGroup(group), group)
	}
	assert.False(t, KnownGroup("rss"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList(" a, b ,,c "))
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , ,"))
}

func TestPortalConfigFrom(t *testing.T) {
	values, err := PreviewGroup(GroupPortal, map[string]interface{}{
		"baseUrl":             "https://wizarr.test",
		"apiKey":              "secret",
		"defaultDurationDays": "45",
		"defaultServerIds":    "srv-1, srv-2",
		"defaultLibraries":    "电影,剧集",
	})
	require.NoError(t, err)

	cfg := PortalConfigFrom(values)
	assert.Equal(t, "https://wizarr.test", cfg.BaseURL)
	assert.Equal(t, 45, cfg.DefaultDurationDays)
	assert.Equal(t, []string{"srv-1", "srv-2"}, cfg.DefaultServerIDs)
	assert.Equal(t, []string{"电影", "剧集"}, cfg.DefaultLibraries)
}

func TestMediaServerConfigFrom(t *testing.T) {
	values, err := PreviewGroup(GroupMediaServer, map[string]interface{}{
		"token":             "tok",
		"serverIdentifier":  "SRV-UUID",
		"librarySectionIds": "1,2",
		"allowSync":         "yes",
	})
	require.NoError(t, err)

	cfg := MediaServerConfigFrom(values)
	assert.Equal(t, "https://plex.tv", cfg.BaseURL)
	assert.Equal(t, []string{"1", "2"}, cfg.LibrarySectionIDs)
	assert.True(t, cfg.AllowSync)
	assert.False(t, cfg.AllowCameraUpload)
}
