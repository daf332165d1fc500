package formsite

import (
	"net/url"
	"testing"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linksTable() *engine.Table {
	const base = "https://fs1.formsite.com/abc123/files/"
	return engine.NewTable(
		[]engine.Column{{ID: "id"}, {ID: "2"}, {ID: "3"}},
		[]engine.Row{
			{"id": int64(3), "2": base + "f-1-2-a.pdf | " + base + "f-1-2-b.png", "3": "not a link"},
			{"id": int64(2), "2": base + "f-1-2-a.pdf", "3": "see " + base + "embedded.pdf"},
			{"id": int64(1), "2": "https://fs2.formsite.com/abc123/files/other-server.pdf", "3": nil},
			{"id": int64(0), "2": base + "c.txt|" + "https://evil.example.com/x", "3": base + "sig-9-9-sign.png"},
		},
	)
}

func TestExtractLinks(t *testing.T) {
	links := ExtractLinks(linksTable(), "fs1", "abc123", nil)

	assert.Equal(t, []string{
		"https://fs1.formsite.com/abc123/files/c.txt",
		"https://fs1.formsite.com/abc123/files/f-1-2-a.pdf",
		"https://fs1.formsite.com/abc123/files/f-1-2-b.png",
		"https://fs1.formsite.com/abc123/files/sig-9-9-sign.png",
	}, links)

	for _, link := range links {
		u, err := url.Parse(link)
		require.NoError(t, err)
		assert.Equal(t, "fs1.formsite.com", u.Host)
	}
}

func TestExtractLinks_Filter(t *testing.T) {
	filter, err := CompileLinkFilter(`.+\.png`)
	require.NoError(t, err)

	links := ExtractLinks(linksTable(), "fs1", "abc123", filter)
	assert.Equal(t, []string{
		"https://fs1.formsite.com/abc123/files/f-1-2-b.png",
		"https://fs1.formsite.com/abc123/files/sig-9-9-sign.png",
	}, links)

	// the filter is anchored at the start of the URL
	filter, err = CompileLinkFilter(`sig-`)
	require.NoError(t, err)
	assert.Empty(t, ExtractLinks(linksTable(), "fs1", "abc123", filter))
}

func TestExtractLinks_EmptyTable(t *testing.T) {
	assert.Empty(t, ExtractLinks(engine.NewTable(nil, nil), "fs1", "abc123", nil))
}

func TestCompileLinkFilter(t *testing.T) {
	filter, err := CompileLinkFilter("")
	require.NoError(t, err)
	assert.Nil(t, filter)

	_, err = CompileLinkFilter("([")
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestFilesURLPattern_QuotesInput(t *testing.T) {
	re := FilesURLPattern("fs1", "a.c")
	assert.True(t, re.MatchString("https://fs1.formsite.com/a.c/files/x"))
	assert.False(t, re.MatchString("https://fs1.formsite.com/abc/files/x"))
}
