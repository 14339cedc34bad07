package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainText(t *testing.T) {
	segs := Parse("hello there")
	require.Len(t, segs, 1)
	assert.Equal(t, Plain, segs[0].Kind)
	assert.Equal(t, "hello there", segs[0].Text)
}

func TestParseEmpty(t *testing.T) {
	assert.Nil(t, Parse(""))
}

func TestParseLinkToken(t *testing.T) {
	segs := Parse("check [link:Shop Now|https://x.test] today")
	require.Len(t, segs, 3)
	assert.Equal(t, Plain, segs[0].Kind)
	assert.Equal(t, "check ", segs[0].Text)
	assert.Equal(t, Link, segs[1].Kind)
	assert.Equal(t, "Shop Now", segs[1].Label)
	assert.Equal(t, "https://x.test", segs[1].URL)
	assert.Equal(t, " today", segs[2].Text)
}

func TestParseMultipleLinks(t *testing.T) {
	segs := Parse("[link:A|https://a.test][link:B|https://b.test]")
	require.Len(t, segs, 2)
	assert.Equal(t, "A", segs[0].Label)
	assert.Equal(t, "B", segs[1].Label)
}

func TestParseBoldSpan(t *testing.T) {
	segs := Parse("a **big** deal")
	require.Len(t, segs, 3)
	assert.Equal(t, Plain, segs[0].Kind)
	assert.Equal(t, Bold, segs[1].Kind)
	assert.Equal(t, "big", segs[1].Text)
	assert.Equal(t, " deal", segs[2].Text)
}

func TestParseBoldInsidePlainAroundLink(t *testing.T) {
	segs := Parse("**hi** [link:Go|https://go.dev] **bye**")
	require.Len(t, segs, 5)
	assert.Equal(t, Bold, segs[0].Kind)
	assert.Equal(t, "hi", segs[0].Text)
	assert.Equal(t, Plain, segs[1].Kind)
	assert.Equal(t, " ", segs[1].Text)
	assert.Equal(t, Link, segs[2].Kind)
	assert.Equal(t, Plain, segs[3].Kind)
	assert.Equal(t, " ", segs[3].Text)
	assert.Equal(t, Bold, segs[4].Kind)
	assert.Equal(t, "bye", segs[4].Text)
}

func TestParseUnmatchedBoldIsLiteral(t *testing.T) {
	segs := Parse("**bold")
	require.Len(t, segs, 1)
	assert.Equal(t, Plain, segs[0].Kind)
	assert.Equal(t, "**bold", segs[0].Text)
}

func TestParseMalformedLinkDegrades(t *testing.T) {
	for _, text := range []string{
		"[link:no closing",
		"[link:nourl]",
		"[link:|https://x.test]",
		"[link:label|]",
	} {
		segs := Parse(text)
		require.NotEmpty(t, segs, text)
		for _, seg := range segs {
			assert.NotEqual(t, Link, seg.Kind, text)
		}
	}
}

func TestParseEmptyBoldDropped(t *testing.T) {
	segs := Parse("a****b")
	require.Len(t, segs, 2)
	assert.Equal(t, "a", segs[0].Text)
	assert.Equal(t, "b", segs[1].Text)
}

func TestRenderHTMLEscapes(t *testing.T) {
	out := string(RenderHTML("<script>alert(1)</script>", "visitor"))
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRenderHTMLLink(t *testing.T) {
	out := string(RenderHTML("[link:Shop Now|https://x.test]", "agent"))
	assert.Contains(t, out, `href="https://x.test"`)
	assert.Contains(t, out, ">Shop Now</a>")
	assert.Contains(t, out, "chat-link-agent")
	assert.Contains(t, out, `target="_blank"`)
}

func TestRenderHTMLRejectsUnsafeScheme(t *testing.T) {
	out := string(RenderHTML("[link:x|javascript:alert(1)]", "visitor"))
	assert.False(t, strings.Contains(out, "<a "), out)
	assert.Contains(t, out, "javascript:alert(1)")
}

func TestRenderHTMLBold(t *testing.T) {
	out := string(RenderHTML("**hey**", "visitor"))
	assert.Equal(t, "<strong>hey</strong>", out)
}
