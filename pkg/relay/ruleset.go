package relay

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type Regex struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`

	re *regexp.Regexp
}

// compiled returns the pattern compiled at load time. Rules built in code
// rather than loaded from YAML are compiled on use.
func (r Regex) compiled() *regexp.Regexp {
	if r.re != nil {
		return r.re
	}
	return regexp.MustCompile(r.Match)
}

type KV struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type RuleSet []Rule

// Rule overrides request headers and rewrites segment URLs for one or more
// domains. A header value of "none" removes that header from the request.
type Rule struct {
	Domain  string   `yaml:"domain,omitempty"`
	Domains []string `yaml:"domains,omitempty"`
	Paths   []string `yaml:"paths,omitempty"`
	Headers struct {
		UserAgent     string `yaml:"user-agent,omitempty"`
		XForwardedFor string `yaml:"x-forwarded-for,omitempty"`
		Referer       string `yaml:"referer,omitempty"`
		Origin        string `yaml:"origin,omitempty"`
		Cookie        string `yaml:"cookie,omitempty"`
	} `yaml:"headers,omitempty"`

	URLMods struct {
		Domain []Regex `yaml:"domain,omitempty"`
		Path   []Regex `yaml:"path,omitempty"`
		Query  []KV    `yaml:"query,omitempty"`
	} `yaml:"urlMods,omitempty"`
}

// LoadRuleset reads rules from one or more ';'-separated paths. A path may be
// a single YAML file or a directory, which is walked for *.yml and *.yaml.
func LoadRuleset(rulePaths string) (RuleSet, error) {
	var ruleSet RuleSet
	var errs []error

	for _, rulePath := range strings.Split(rulePaths, ";") {
		trimmedPath := strings.TrimSpace(rulePath)
		if trimmedPath == "" {
			continue
		}

		var rules RuleSet
		err := filepath.Walk(trimmedPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !(strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml")) {
				return nil
			}

			yamlFile, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read rules file '%s': %w", path, err)
			}
			var r RuleSet
			if err := yaml.Unmarshal(yamlFile, &r); err != nil {
				return fmt.Errorf("syntax error in rules file '%s': %w", path, err)
			}
			if err := r.compile(); err != nil {
				return fmt.Errorf("invalid rules file '%s': %w", path, err)
			}
			rules = append(rules, r...)
			return nil
		})

		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load rules from '%s': %w", trimmedPath, err))
		} else {
			ruleSet = append(ruleSet, rules...)
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("errors while loading rulesets: %v", errs)
	}

	return ruleSet, nil
}

// compile compiles every urlMods pattern up front so a bad rule fails at
// startup rather than in the middle of a download.
func (rs RuleSet) compile() error {
	for i := range rs {
		if err := compileAll(rs[i].URLMods.Domain); err != nil {
			return err
		}
		if err := compileAll(rs[i].URLMods.Path); err != nil {
			return err
		}
	}
	return nil
}

func compileAll(mods []Regex) error {
	for i := range mods {
		re, err := regexp.Compile(mods[i].Match)
		if err != nil {
			return fmt.Errorf("bad urlMods pattern %q: %w", mods[i].Match, err)
		}
		mods[i].re = re
	}
	return nil
}

func (rs *RuleSet) Domains() []string {
	var domains []string
	for _, rule := range *rs {
		if rule.Domain != "" {
			domains = append(domains, rule.Domain)
		}
		domains = append(domains, rule.Domains...)
	}
	return domains
}

func (rs *RuleSet) DomainCount() int {
	return len(rs.Domains())
}

func (rs *RuleSet) Count() int {
	return len(*rs)
}

// Match returns the first rule for domain and path, or an empty rule.
func (rs RuleSet) Match(domain, path string) Rule {
	for _, rule := range rs {
		if !rule.matchesDomain(domain) {
			continue
		}
		if len(rule.Paths) > 0 && !hasAnyPrefix(path, rule.Paths) {
			continue
		}
		return rule
	}
	return Rule{}
}

func (rule Rule) matchesDomain(domain string) bool {
	if rule.Domain != "" && domainMatches(domain, rule.Domain) {
		return true
	}
	for _, ruleDomain := range rule.Domains {
		if domainMatches(domain, ruleDomain) {
			return true
		}
	}
	return false
}

func modifyURL(u *url.URL, rule Rule) *url.URL {
	newURL := *u

	for _, urlMod := range rule.URLMods.Domain {
		newURL.Host = urlMod.compiled().ReplaceAllString(newURL.Host, urlMod.Replace)
	}

	for _, urlMod := range rule.URLMods.Path {
		newURL.Path = urlMod.compiled().ReplaceAllString(newURL.Path, urlMod.Replace)
	}

	if len(rule.URLMods.Query) > 0 {
		v := newURL.Query()
		for _, query := range rule.URLMods.Query {
			if query.Value == "" {
				v.Del(query.Key)
				continue
			}
			v.Set(query.Key, query.Value)
		}
		newURL.RawQuery = v.Encode()
	}

	return &newURL
}

func domainMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hasAnyPrefix(s string, list []string) bool {
	for _, x := range list {
		if strings.HasPrefix(s, x) {
			return true
		}
	}
	return false
}
