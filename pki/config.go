package pki

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Config defaults.
const (
	DefaultCRLValidityHours     = 168
	DefaultOCSPValidityHours    = 168
	DefaultOCSPStartSkewSeconds = 3600
	DefaultDigest               = "SHA256"
)

// Config is the per-CA configuration: CRL and OCSP timing plus the named
// issuance profiles.
type Config struct {
	CRLValidityHours     int                `yaml:"crl_validity_hours,omitempty" json:"crl_validity_hours,omitempty"`
	OCSPValidityHours    int                `yaml:"ocsp_validity_hours,omitempty" json:"ocsp_validity_hours,omitempty"`
	OCSPStartSkewSeconds int                `yaml:"ocsp_start_skew_seconds,omitempty" json:"ocsp_start_skew_seconds,omitempty"`
	CRLMD                string             `yaml:"crl_md,omitempty" json:"crl_md,omitempty"`
	Profiles             map[string]Profile `yaml:"profiles,omitempty" json:"profiles,omitempty"`
}

// Profile is the issuance policy for one kind of certificate.
type Profile struct {
	BasicConstraints      *BasicConstraintsPolicy `yaml:"basic_constraints,omitempty" json:"basic_constraints,omitempty"`
	KeyUsage              *UsagePolicy            `yaml:"key_usage,omitempty" json:"key_usage,omitempty"`
	ExtendedKeyUsage      *UsagePolicy            `yaml:"extended_key_usage,omitempty" json:"extended_key_usage,omitempty"`
	CRLDistributionPoints *LocationPolicy         `yaml:"crl_distribution_points,omitempty" json:"crl_distribution_points,omitempty"`
	AuthorityInfoAccess   *AIAPolicy              `yaml:"authority_info_access,omitempty" json:"authority_info_access,omitempty"`
	SubjectItemPolicy     map[string]ItemPolicy   `yaml:"subject_item_policy,omitempty" json:"subject_item_policy,omitempty"`
	AllowedMDs            []string                `yaml:"allowed_mds,omitempty" json:"allowed_mds,omitempty"`
	DefaultMD             string                  `yaml:"default_md,omitempty" json:"default_md,omitempty"`
}

type BasicConstraintsPolicy struct {
	CA         bool `yaml:"ca" json:"ca"`
	PathLength *int `yaml:"path_length,omitempty" json:"path_length,omitempty"`
}

type UsagePolicy struct {
	Value    []string `yaml:"value" json:"value"`
	Critical bool     `yaml:"critical,omitempty" json:"critical,omitempty"`
}

// NamedLocation is a typed location entry, e.g. {type: URI, value: ...}.
type NamedLocation struct {
	Type  string `yaml:"type" json:"type"`
	Value string `yaml:"value" json:"value"`
}

type LocationPolicy struct {
	Value []NamedLocation `yaml:"value" json:"value"`
}

type AIAPolicy struct {
	OCSPLocation      []NamedLocation `yaml:"ocsp_location,omitempty" json:"ocsp_location,omitempty"`
	CAIssuersLocation []NamedLocation `yaml:"ca_issuers_location,omitempty" json:"ca_issuers_location,omitempty"`
}

// Subject item policies.
const (
	ItemRequired = "required"
	ItemOptional = "optional"
	ItemMatch    = "match"
)

// ItemPolicy constrains a single subject attribute.
type ItemPolicy struct {
	Policy string `yaml:"policy" json:"policy"`
	Value  string `yaml:"value,omitempty" json:"value,omitempty"`
}

// CRLValidity returns the configured CRL lifetime.
func (c *Config) CRLValidity() time.Duration {
	if c.CRLValidityHours > 0 {
		return time.Duration(c.CRLValidityHours) * time.Hour
	}
	return DefaultCRLValidityHours * time.Hour
}

// OCSPValidity returns the configured OCSP response lifetime.
func (c *Config) OCSPValidity() time.Duration {
	if c.OCSPValidityHours > 0 {
		return time.Duration(c.OCSPValidityHours) * time.Hour
	}
	return DefaultOCSPValidityHours * time.Hour
}

// OCSPStartSkew returns how far thisUpdate is backdated in OCSP responses.
func (c *Config) OCSPStartSkew() time.Duration {
	if c.OCSPStartSkewSeconds > 0 {
		return time.Duration(c.OCSPStartSkewSeconds) * time.Second
	}
	return DefaultOCSPStartSkewSeconds * time.Second
}

// CRLDigest returns the digest used to sign CRLs.
func (c *Config) CRLDigest() string {
	if c.CRLMD != "" {
		return c.CRLMD
	}
	return DefaultDigest
}

// Validate checks every profile can be turned into extensions and that the
// digests are supported.
func (c *Config) Validate() error {
	if _, err := hashFor(c.CRLDigest()); err != nil {
		return fmt.Errorf("%w: crl_md: %v", ErrInvalidConfig, err)
	}
	for name, p := range c.Profiles {
		if _, err := p.Extensions(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
		for label, item := range p.SubjectItemPolicy {
			if _, ok := CanonicalAttribute(label); !ok {
				return fmt.Errorf("%w: profile %q: unknown subject attribute %q", ErrInvalidConfig, name, label)
			}
			switch item.Policy {
			case ItemRequired, ItemOptional, ItemMatch:
			default:
				return fmt.Errorf("%w: profile %q: unknown policy %q for %s", ErrInvalidConfig, name, item.Policy, label)
			}
		}
	}
	return nil
}

// Extensions returns the certificate extensions the profile imposes.
func (p *Profile) Extensions() ([]Extension, error) {
	var exts []Extension
	if bc := p.BasicConstraints; bc != nil {
		exts = append(exts, BasicConstraints{CA: bc.CA, PathLength: bc.PathLength})
	}
	if ku := p.KeyUsage; ku != nil {
		e, err := ParseKeyUsage(ku.Value)
		if err != nil {
			return nil, err
		}
		exts = append(exts, e)
	}
	if eku := p.ExtendedKeyUsage; eku != nil {
		e, err := ParseExtendedKeyUsage(eku.Value)
		if err != nil {
			return nil, err
		}
		exts = append(exts, e)
	}
	if cdp := p.CRLDistributionPoints; cdp != nil {
		uris, err := locationURIs(cdp.Value)
		if err != nil {
			return nil, err
		}
		exts = append(exts, CRLDistributionPoints{URIs: uris})
	}
	if aia := p.AuthorityInfoAccess; aia != nil {
		ocsp, err := locationURIs(aia.OCSPLocation)
		if err != nil {
			return nil, err
		}
		issuers, err := locationURIs(aia.CAIssuersLocation)
		if err != nil {
			return nil, err
		}
		exts = append(exts, AuthorityInfoAccess{OCSP: ocsp, CAIssuers: issuers})
	}
	return exts, nil
}

func locationURIs(locs []NamedLocation) ([]string, error) {
	uris := make([]string, 0, len(locs))
	for _, l := range locs {
		if !strings.EqualFold(l.Type, "URI") {
			return nil, fmt.Errorf("%w: unsupported location type %q", ErrInvalidConfig, l.Type)
		}
		uris = append(uris, l.Value)
	}
	return uris, nil
}

// LoadConfig parses a stored YAML configuration.
func LoadConfig(data string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(data) != "" {
		if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCAConfig parses a JSON CA configuration, normalizes the keys of
// every profile to snake_case and returns the validated configuration with
// its YAML serialization. The immediate children of subject_item_policy are
// attribute labels and keep their spelling.
func ParseCAConfig(jsonText string) (*Config, string, error) {
	if strings.TrimSpace(jsonText) == "" {
		jsonText = "{}"
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if profiles, ok := raw["profiles"].(map[string]any); ok {
		for name, p := range profiles {
			if pm, ok := p.(map[string]any); ok {
				profiles[name] = normalizeKeys(pm)
			}
		}
	}
	out, err := yaml.Marshal(raw)
	if err != nil {
		return nil, "", fmt.Errorf("encoding CA configuration: %w", err)
	}
	cfg, err := LoadConfig(string(out))
	if err != nil {
		return nil, "", err
	}
	return cfg, string(out), nil
}

// knownKeys maps squashed spellings onto the canonical profile keys so that
// e.g. "cRLDistributionPoints" and "crl-distribution-points" both resolve.
var knownKeys = func() map[string]string {
	m := make(map[string]string)
	for _, k := range []string{
		"basic_constraints", "ca", "path_length", "key_usage", "extended_key_usage",
		"value", "critical", "crl_distribution_points", "authority_info_access",
		"ocsp_location", "ca_issuers_location", "subject_item_policy", "policy",
		"allowed_mds", "default_md", "type",
	} {
		m[squash(k)] = k
	}
	return m
}()

func squash(k string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(k))
}

func normalizeKey(k string) string {
	if canonical, ok := knownKeys[squash(k)]; ok {
		return canonical
	}
	return snakeCase(k)
}

func snakeCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if r == '-' || r == ' ' {
			sb.WriteRune('_')
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				sb.WriteRune('_')
			}
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

func normalizeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := normalizeKey(k)
		if key == "subject_item_policy" {
			if items, ok := v.(map[string]any); ok {
				policy := make(map[string]any, len(items))
				for label, item := range items {
					if im, ok := item.(map[string]any); ok {
						policy[label] = normalizeKeys(im)
					} else {
						policy[label] = item
					}
				}
				out[key] = policy
				continue
			}
		}
		out[key] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeKeys(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}
