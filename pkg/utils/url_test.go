package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashURLStable(t *testing.T) {
	a := HashURL("https://example.com/a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashURL("https://example.com/a"))
	assert.NotEqual(t, a, HashURL("https://example.com/b"))
}

func TestNormalizeURL(t *testing.T) {
	u, _ := url.Parse("https://user@next.amboss.com/de/article/abc?x=1#frag")
	assert.Equal(t, "https://next.amboss.com/de/article/abc?x=1", NormalizeURL(u))
}

func TestSameSite(t *testing.T) {
	base, _ := url.Parse("https://next.amboss.com")
	in, _ := url.Parse("https://next.amboss.com/de/article/a")
	other, _ := url.Parse("https://evil.example/de/article/a")
	insecure, _ := url.Parse("http://next.amboss.com/de")

	assert.True(t, SameSite(base, in))
	assert.False(t, SameSite(base, other))
	assert.False(t, SameSite(base, insecure))
}
