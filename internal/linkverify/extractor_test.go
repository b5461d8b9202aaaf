package linkverify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinksFromReader(t *testing.T) {
	page := `<html><head><link rel="stylesheet" href="style.css"></head><body>
<a href="guide.html">Guide</a>
<a href="https://example.com/docs">External</a>
<img src="logo.png" alt="Logo">
<script src="app.js"></script>
</body></html>`

	links, err := ExtractLinksFromReader(strings.NewReader(page), "https://docs.example.org")
	require.NoError(t, err)
	require.Len(t, links, 5)

	byURL := map[string]*Link{}
	for _, l := range links {
		byURL[l.URL] = l
	}

	require.Contains(t, byURL, "guide.html")
	assert.Equal(t, "a", byURL["guide.html"].Tag)
	assert.Equal(t, "Guide", byURL["guide.html"].Text)
	assert.True(t, byURL["guide.html"].IsInternal)

	require.Contains(t, byURL, "https://example.com/docs")
	assert.False(t, byURL["https://example.com/docs"].IsInternal)

	require.Contains(t, byURL, "logo.png")
	assert.Equal(t, "Logo", byURL["logo.png"].Text)

	assert.Equal(t, "script", byURL["app.js"].Tag)
	assert.Equal(t, "link", byURL["style.css"].Tag)
}

func TestIsInternalLinkSameHost(t *testing.T) {
	links, err := ExtractLinksFromReader(
		strings.NewReader(`<a href="https://docs.example.org/page.html">same host</a>`),
		"https://docs.example.org")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].IsInternal)
}
