// Package relay fetches playlist segments in order and streams their bytes
// to a single writer.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andesco/hlsladder/pkg/playlist"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/http/httpguts"
)

const (
	defaultTimeout = 30
	maxRedirects   = 10
)

// ErrDomainNotAllowed is returned when a rule rewrite or a redirect points a
// segment fetch at a host outside AllowedDomains.
var ErrDomainNotAllowed = errors.New("domain not allowed")

// skipHeaders are never forwarded upstream. The transport manages some of
// them and the rest describe the client's connection, not the segment request.
// authority, method, path and scheme are HTTP/2 pseudo-headers that lost
// their leading colon in the form parser.
var skipHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"content-length":    true,
	"transfer-encoding": true,
	"accept-encoding":   true,
	"keep-alive":        true,
	"upgrade":           true,
	"te":                true,
	"trailer":           true,
	"proxy-connection":  true,
	"authority":         true,
	"method":            true,
	"path":              true,
	"scheme":            true,
}

type Relay struct {
	UserAgent      string
	Rules          RuleSet
	AllowedDomains []string
	Timeout        int
	LogURLs        bool

	client *http.Client
	logger hclog.Logger
}

// NewRelay creates a Relay configured from the environment. rulesetPath may
// be empty, in which case no per-domain rules apply.
func NewRelay(rulesetPath string, logger hclog.Logger) (*Relay, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var rules RuleSet
	if rulesetPath == "" {
		logger.Warn("no ruleset specified, set the RULESET environment variable to load one")
	} else {
		var err error
		rules, err = LoadRuleset(rulesetPath)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded ruleset", "rules", rules.Count(), "domains", rules.DomainCount())
	}

	allowedDomains := splitList(os.Getenv("ALLOWED_DOMAINS"))
	if len(allowedDomains) > 0 && os.Getenv("ALLOWED_DOMAINS_RULESET") == "true" {
		allowedDomains = append(allowedDomains, rules.Domains()...)
	}

	timeout := defaultTimeout
	if timeoutStr := os.Getenv("HTTP_TIMEOUT"); timeoutStr != "" {
		t, err := strconv.Atoi(timeoutStr)
		if err != nil || t < 0 {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT %q", timeoutStr)
		}
		timeout = t
	}

	r := &Relay{
		UserAgent:      os.Getenv("USER_AGENT"),
		Rules:          rules,
		AllowedDomains: allowedDomains,
		Timeout:        timeout,
		LogURLs:        os.Getenv("LOG_URLS") == "true",
		logger:         logger,
	}
	r.client = &http.Client{
		Timeout:       time.Second * time.Duration(timeout),
		CheckRedirect: r.checkRedirect,
	}
	return r, nil
}

// checkRedirect keeps redirects inside AllowedDomains.
func (r *Relay) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if !r.isAllowed(req.URL.Hostname()) {
		return fmt.Errorf("redirect to %s: %w", req.URL.Hostname(), ErrDomainNotAllowed)
	}
	return nil
}

// WithLogger returns a shallow copy of r that logs to logger.
func (r *Relay) WithLogger(logger hclog.Logger) *Relay {
	c := *r
	c.logger = logger
	return &c
}

// CheckURLs rejects URLs that are not absolute http(s) or whose host is not
// allowed. The returned error is a *playlist.ValidationError.
func (r *Relay) CheckURLs(urls []string) error {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &playlist.ValidationError{Field: "videoUrls", Message: fmt.Sprintf("Invalid video url: %s", raw)}
		}
		if !r.isAllowed(u.Hostname()) {
			return &playlist.ValidationError{Field: "videoUrls", Message: fmt.Sprintf("Domain not allowed: %s", u.Hostname())}
		}
	}
	return nil
}

func (r *Relay) isAllowed(host string) bool {
	if len(r.AllowedDomains) == 0 {
		return true
	}
	for _, d := range r.AllowedDomains {
		if domainMatches(host, d) {
			return true
		}
	}
	return false
}

// SegmentError reports a segment that could not be downloaded.
type SegmentError struct {
	Index      int
	URL        string
	StatusCode int
	Err        error
}

func (e *SegmentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to download video at %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to download video at %s: %v", e.URL, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// fetch issues the GET for one segment. The caller must close the body.
func (r *Relay) fetch(ctx context.Context, index int, rawURL string, headers map[string]string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &SegmentError{Index: index, URL: rawURL, Err: fmt.Errorf("error parsing url: %w", err)}
	}

	rule := r.Rules.Match(u.Hostname(), u.Path)
	finalURL := modifyURL(u, rule)
	if !r.isAllowed(finalURL.Hostname()) {
		return nil, &SegmentError{Index: index, URL: rawURL, Err: fmt.Errorf("rewritten to %s: %w", finalURL.Hostname(), ErrDomainNotAllowed)}
	}

	if r.LogURLs {
		r.logger.Info("fetching segment", "index", index, "url", finalURL.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL.String(), nil)
	if err != nil {
		return nil, &SegmentError{Index: index, URL: rawURL, Err: err}
	}
	r.setHeaders(req, headers, rule)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &SegmentError{Index: index, URL: rawURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &SegmentError{Index: index, URL: rawURL, StatusCode: resp.StatusCode}
	}

	return resp, nil
}

func (r *Relay) setHeaders(req *http.Request, headers map[string]string, rule Rule) {
	for key, value := range headers {
		key = strings.ToLower(strings.TrimSpace(key))
		if skipHeaders[key] || !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
			r.logger.Debug("dropping header", "header", key)
			continue
		}
		req.Header.Set(key, value)
	}

	if req.Header.Get("User-Agent") == "" && r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	override(req.Header, "User-Agent", rule.Headers.UserAgent)
	override(req.Header, "X-Forwarded-For", rule.Headers.XForwardedFor)
	override(req.Header, "Referer", rule.Headers.Referer)
	override(req.Header, "Origin", rule.Headers.Origin)
	override(req.Header, "Cookie", rule.Headers.Cookie)
}

func override(h http.Header, key, value string) {
	switch value {
	case "":
	case "none":
		h.Del(key)
	default:
		h.Set(key, value)
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
