package relay

import (
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cdnRules = `
- domain: cdn.example.com
  paths: ["/hls/"]
  headers:
    referer: https://player.example.com/
    user-agent: ladder-agent
  urlMods:
    domain:
      - match: ^cdn\.
        replace: edge.
    query:
      - key: token
        value: ""
      - key: quality
        value: high
- domains: [media.example.org, media.example.net]
  headers:
    cookie: session=1
`

func writeRules(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRulesetFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "cdn.yaml", cdnRules)
	writeRules(t, dir, "notes.txt", "not yaml: [")

	rules, err := LoadRuleset(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, rules.Count())
	assert.Equal(t, 3, rules.DomainCount())
	assert.ElementsMatch(t, []string{"cdn.example.com", "media.example.org", "media.example.net"}, rules.Domains())
}

func TestLoadRulesetMultiplePaths(t *testing.T) {
	a := writeRules(t, t.TempDir(), "a.yml", "- domain: a.example\n")
	b := writeRules(t, t.TempDir(), "b.yml", "- domain: b.example\n")

	rules, err := LoadRuleset(a + "; " + b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example", "b.example"}, rules.Domains())
}

func TestLoadRulesetErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRuleset(writeRules(t, dir, "broken.yml", "- domain: [unterminated\n"))
	assert.ErrorContains(t, err, "syntax error")

	_, err = LoadRuleset(writeRules(t, dir, "regex.yml", "- domain: a\n  urlMods:\n    path:\n      - match: \"(\"\n"))
	assert.ErrorContains(t, err, "bad urlMods pattern")

	_, err = LoadRuleset(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRuleSetMatch(t *testing.T) {
	path := writeRules(t, t.TempDir(), "cdn.yml", cdnRules)
	rules, err := LoadRuleset(path)
	require.NoError(t, err)

	rule := rules.Match("cdn.example.com", "/hls/seg0.ts")
	assert.Equal(t, "https://player.example.com/", rule.Headers.Referer)

	rule = rules.Match("eu.cdn.example.com", "/hls/seg0.ts")
	assert.Equal(t, "ladder-agent", rule.Headers.UserAgent)

	rule = rules.Match("cdn.example.com", "/vod/seg0.ts")
	assert.Empty(t, rule.Headers.Referer)

	rule = rules.Match("media.example.net", "/anything.ts")
	assert.Equal(t, "session=1", rule.Headers.Cookie)

	rule = rules.Match("unknown.example", "/hls/seg0.ts")
	assert.Equal(t, Rule{}, rule)
}

func TestModifyURL(t *testing.T) {
	path := writeRules(t, t.TempDir(), "cdn.yml", cdnRules)
	rules, err := LoadRuleset(path)
	require.NoError(t, err)

	u, err := url.Parse("https://cdn.example.com/hls/seg0.ts?token=abc")
	require.NoError(t, err)

	got := modifyURL(u, rules.Match(u.Hostname(), u.Path))
	assert.Equal(t, "https://edge.example.com/hls/seg0.ts?quality=high", got.String())
	assert.Equal(t, "https://cdn.example.com/hls/seg0.ts?token=abc", u.String())
}

func TestLoadRulesetCompilesPatterns(t *testing.T) {
	path := writeRules(t, t.TempDir(), "cdn.yml", cdnRules)
	rules, err := LoadRuleset(path)
	require.NoError(t, err)

	mod := rules[0].URLMods.Domain[0]
	require.NotNil(t, mod.re)
	assert.Same(t, mod.re, mod.compiled())
}

func TestRuleSetMatchLeavesDomainsUntouched(t *testing.T) {
	domains := make([]string, 1, 4)
	domains[0] = "a.example"
	rs := RuleSet{{Domain: "b.example", Domains: domains}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rs.Match("x.example", "/")
			rs.Match("cdn.b.example", "/")
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"a.example"}, rs[0].Domains)
	assert.Equal(t, "", domains[:2][1])
	assert.Equal(t, "b.example", rs.Match("cdn.b.example", "/seg.ts").Domain)
	assert.Equal(t, "b.example", rs.Match("a.example", "/seg.ts").Domain)
}
