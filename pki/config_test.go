package pki_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/flexiant/camanager/pki"
)

func TestParseCAConfigNormalizesProfileKeys(t *testing.T) {
	cfg, yamlText, err := pki.ParseCAConfig(`{
	  "crl_validity_hours": 12,
	  "profiles": {
	    "client": {
	      "basicConstraints": {"ca": false},
	      "extendedKeyUsage": {"value": ["clientAuth"]},
	      "cRLDistributionPoints": {"value": [{"type": "URI", "value": "http://crl"}]},
	      "authorityInfoAccess": {"ocspLocation": [{"type": "URI", "value": "http://ocsp"}]},
	      "subjectItemPolicy": {"CN": {"Policy": "required"}, "emailAddress": {"policy": "optional"}},
	      "allowedMds": ["SHA256"]
	    }
	  }
	}`)
	require.NoError(t, err)

	p, ok := cfg.Profiles["client"]
	require.True(t, ok)
	require.NotNil(t, p.BasicConstraints)
	require.NotNil(t, p.ExtendedKeyUsage)
	assert.Equal(t, []string{"clientAuth"}, p.ExtendedKeyUsage.Value)
	require.NotNil(t, p.CRLDistributionPoints)
	assert.Equal(t, "http://crl", p.CRLDistributionPoints.Value[0].Value)
	require.NotNil(t, p.AuthorityInfoAccess)
	assert.Len(t, p.AuthorityInfoAccess.OCSPLocation, 1)
	assert.Equal(t, []string{"SHA256"}, p.AllowedMDs)
	assert.Equal(t, 12*time.Hour, cfg.CRLValidity())

	// Attribute labels keep their spelling; their policy keys are normalized.
	assert.Equal(t, pki.ItemPolicy{Policy: "required"}, p.SubjectItemPolicy["CN"])
	assert.Contains(t, p.SubjectItemPolicy, "emailAddress")

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(yamlText), &raw))
	profile := raw["profiles"].(map[string]any)["client"].(map[string]any)
	assert.Contains(t, profile, "subject_item_policy")
	assert.Contains(t, profile, "crl_distribution_points")
	assert.Contains(t, profile["subject_item_policy"].(map[string]any), "emailAddress")

	reloaded, err := pki.LoadConfig(yamlText)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestParseCAConfigEmpty(t *testing.T) {
	for _, in := range []string{"", "{}"} {
		cfg, _, err := pki.ParseCAConfig(in)
		require.NoError(t, err)
		assert.Empty(t, cfg.Profiles)
		assert.Equal(t, pki.DefaultCRLValidityHours*time.Hour, cfg.CRLValidity())
		assert.Equal(t, pki.DefaultOCSPValidityHours*time.Hour, cfg.OCSPValidity())
		assert.Equal(t, pki.DefaultOCSPStartSkewSeconds*time.Second, cfg.OCSPStartSkew())
		assert.Equal(t, "SHA256", cfg.CRLDigest())
	}
}

func TestParseCAConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"not json":         `{"profiles":`,
		"unknown usage":    `{"profiles": {"p": {"key_usage": {"value": ["flying"]}}}}`,
		"unknown location": `{"profiles": {"p": {"crl_distribution_points": {"value": [{"type": "DNS", "value": "x"}]}}}}`,
		"unknown policy":   `{"profiles": {"p": {"subject_item_policy": {"CN": {"policy": "sometimes"}}}}}`,
		"unknown label":    `{"profiles": {"p": {"subject_item_policy": {"XX": {"policy": "required"}}}}}`,
		"bad crl digest":   `{"crl_md": "MD5"}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := pki.ParseCAConfig(in)
			assert.ErrorIs(t, err, pki.ErrInvalidConfig)
		})
	}
}
