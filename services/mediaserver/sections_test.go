package mediaserver

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

const sectionsXML = `<MediaContainer>
	<Server>
		<Section id="1" key="/library/sections/1" title="Movies"/>
		<Section id="2" key="/library/sections/2" title="TV Shows"/>
		<Section id="3" key="/library/sections/3" title="Music"/>
	</Server>
</MediaContainer>`

func sectionsAdapter(cfg Config) (*Adapter, *routeRequester) {
	tp := &routeRequester{handler: func(method, path string) *transport.Response {
		if method == http.MethodGet && strings.HasPrefix(path, "/api/servers/") {
			return okResponse(sectionsXML)
		}
		return nil
	}}
	return New(tp, cfg), tp
}

func TestResolveSectionIDsRemapping(t *testing.T) {
	desc := &ServerDescriptor{MachineIdentifier: "SRV-UUID-1"}

	cases := []struct {
		name      string
		requested []string
		want      []string
	}{
		{"按分区 id", []string{"2"}, []string{"2"}},
		{"按 key 路径（末尾数字）", []string{"/library/sections/1"}, []string{"1"}},
		{"按标题归一化", []string{"Movies", "TV Shows"}, []string{"1", "2"}},
		{"未知 id 丢弃", []string{"2", "99"}, []string{"2"}},
		{"重复请求去重", []string{"1", "/library/sections/1"}, []string{"1"}},
	}

	for _, tc := range cases {
		a, _ := sectionsAdapter(Config{BaseURL: "https://plex.tv", Token: "tok-sections"})
		got, err := a.resolveSectionIDs(context.Background(), desc, tc.requested)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestResolveSectionIDsDefaultsToFullCatalog(t *testing.T) {
	desc := &ServerDescriptor{MachineIdentifier: "SRV-UUID-1"}

	// 什么都没请求：放开全部分区
	a, _ := sectionsAdapter(Config{BaseURL: "https://plex.tv", Token: "tok-s1"})
	got, err := a.resolveSectionIDs(context.Background(), desc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, got)

}

// 请求了但一个都没匹配上：宁可共享零个分区也不放开全部
func TestResolveSectionIDsUnknownRequestGrantsNothing(t *testing.T) {
	desc := &ServerDescriptor{MachineIdentifier: "SRV-UUID-1"}

	a, _ := sectionsAdapter(Config{BaseURL: "https://plex.tv", Token: "tok-s3"})
	got, err := a.resolveSectionIDs(context.Background(), desc, []string{"999"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = a.resolveSectionIDs(context.Background(), desc, []string{"99", "no-such"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveSectionIDsUsesConfigDefault(t *testing.T) {
	desc := &ServerDescriptor{MachineIdentifier: "SRV-UUID-1"}

	a, _ := sectionsAdapter(Config{
		BaseURL:           "https://plex.tv",
		Token:             "tok-s2",
		LibrarySectionIDs: []string{"3"},
	})
	got, err := a.resolveSectionIDs(context.Background(), desc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, got)
}

func TestParseSectionsJSON(t *testing.T) {
	body := `{"sections":[{"id":"1","key":"/library/sections/1","title":"Movies"}]}`
	sections, err := parseSectionsJSON([]byte(body))
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Movies", sections[0].Title)
}
