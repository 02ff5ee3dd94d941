package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("mira https://a.example/x y http://b.example luego texto")
	require.Equal(t, []string{"https://a.example/x", "http://b.example"}, urls)
}

func TestExtractURLsNone(t *testing.T) {
	require.Empty(t, ExtractURLs("sin enlaces aquí"))
	require.Empty(t, ExtractURLs("ftp://no.cuenta/archivo"))
}

func TestNormalizeURLLowercases(t *testing.T) {
	require.Equal(t, "https://youtube.com/watch", NormalizeURL("https://YouTube.COM/Watch"))
}

func TestNormalizeURLKeepsPort(t *testing.T) {
	require.Equal(t, "https://example.com:8443/path", NormalizeURL("https://Example.com:8443/path"))
}

func TestNormalizeURLPunycodesHost(t *testing.T) {
	got := NormalizeURL("https://münchen.example/seite")
	require.Contains(t, got, "xn--")
	require.Contains(t, got, "/seite")
}

func TestHasAllowedPrefix(t *testing.T) {
	prefixes := []string{"https://youtube.com/", "https://github.com/"}

	require.True(t, HasAllowedPrefix("https://youtube.com/watch?v=1", prefixes))
	require.False(t, HasAllowedPrefix("https://evil.example/", prefixes))
	require.False(t, HasAllowedPrefix("https://youtube.com.evil.example/", prefixes))
}

func TestHasAllowedPrefixSkipsEmpty(t *testing.T) {
	require.False(t, HasAllowedPrefix("https://example.com/", []string{"", ""}))
}
