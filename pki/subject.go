package pki

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"

	"github.com/flexiant/camanager/internal/util"
)

// Subject is an ordered list of distinguished-name attributes. Order is
// preserved into the encoded certificate.
type Subject []pkix.AttributeTypeAndValue

var attributeOIDs = map[string]asn1.ObjectIdentifier{
	"CN":           {2, 5, 4, 3},
	"SN":           {2, 5, 4, 4},
	"serialNumber": {2, 5, 4, 5},
	"C":            {2, 5, 4, 6},
	"L":            {2, 5, 4, 7},
	"ST":           {2, 5, 4, 8},
	"street":       {2, 5, 4, 9},
	"O":            {2, 5, 4, 10},
	"OU":           {2, 5, 4, 11},
	"title":        {2, 5, 4, 12},
	"postalCode":   {2, 5, 4, 17},
	"GN":           {2, 5, 4, 42},
	"DC":           {0, 9, 2342, 19200300, 100, 1, 25},
	"UID":          {0, 9, 2342, 19200300, 100, 1, 1},
	"emailAddress": {1, 2, 840, 113549, 1, 9, 1},
}

// attributeAliases maps alternative spellings onto canonical short names.
var attributeAliases = map[string]string{
	"commonname":             "CN",
	"surname":                "SN",
	"serialnumber":           "serialNumber",
	"countryname":            "C",
	"localityname":           "L",
	"stateorprovincename":    "ST",
	"s":                      "ST",
	"streetaddress":          "street",
	"organizationname":       "O",
	"organizationalunitname": "OU",
	"postalcode":             "postalCode",
	"givenname":              "GN",
	"domaincomponent":        "DC",
	"userid":                 "UID",
	"email":                  "emailAddress",
	"emailaddress":           "emailAddress",
	"e":                      "emailAddress",
}

// CanonicalAttribute returns the canonical short name for an attribute
// label, e.g. "commonName" and "cn" both map to "CN".
func CanonicalAttribute(label string) (string, bool) {
	if _, ok := attributeOIDs[label]; ok {
		return label, true
	}
	lower := strings.ToLower(label)
	if alias, ok := attributeAliases[lower]; ok {
		return alias, true
	}
	for short := range attributeOIDs {
		if strings.ToLower(short) == lower {
			return short, true
		}
	}
	return "", false
}

func attributeShortName(oid asn1.ObjectIdentifier) string {
	for short, o := range attributeOIDs {
		if o.Equal(oid) {
			return short
		}
	}
	return oid.String()
}

// Add appends an attribute by short name.
func (s Subject) Add(label, value string) (Subject, error) {
	short, ok := CanonicalAttribute(label)
	if !ok {
		return s, fmt.Errorf("unknown subject attribute %q", label)
	}
	return append(s, pkix.AttributeTypeAndValue{
		Type:  attributeOIDs[short],
		Value: util.Normalize(value),
	}), nil
}

// NewSubject builds a Subject from ordered (label, value) pairs. Pairs with
// blank values are skipped.
func NewSubject(pairs [][2]string) (Subject, error) {
	var s Subject
	for _, p := range pairs {
		if strings.TrimSpace(p[1]) == "" {
			continue
		}
		var err error
		if s, err = s.Add(p[0], p[1]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ParseSubject parses a distinguished name written either in OpenSSL slash
// form ("/CN=example/O=Org") or comma form ("CN=example,O=Org").
func ParseSubject(dn string) (Subject, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return nil, nil
	}
	var parts []string
	if strings.HasPrefix(dn, "/") {
		parts = strings.Split(dn[1:], "/")
	} else {
		parts = splitUnescaped(dn, ',')
	}
	pairs := make([][2]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed subject component %q", part)
		}
		pairs = append(pairs, [2]string{strings.TrimSpace(k), strings.ReplaceAll(v, `\,`, ",")})
	}
	return NewSubject(pairs)
}

func splitUnescaped(s string, sep byte) []string {
	var (
		parts []string
		start int
	)
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == sep {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// SubjectFromName returns the attributes of a name in their encoded order.
// Parsed names carry that order in Names; hand-built names are flattened
// through their RDN sequence.
func SubjectFromName(name pkix.Name) Subject {
	if len(name.Names) > 0 {
		s := make(Subject, len(name.Names))
		copy(s, name.Names)
		return s
	}
	var s Subject
	for _, rdn := range name.ToRDNSequence() {
		s = append(s, rdn...)
	}
	return s
}

// Empty reports whether the subject has no attributes.
func (s Subject) Empty() bool {
	return len(s) == 0
}

// Equal reports whether both subjects carry the same attributes with the
// same values in the same order.
func (s Subject) Equal(other Subject) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if !s[i].Type.Equal(other[i].Type) || fmt.Sprint(s[i].Value) != fmt.Sprint(other[i].Value) {
			return false
		}
	}
	return true
}

// Get returns the first value for the attribute short name.
func (s Subject) Get(label string) (string, bool) {
	short, ok := CanonicalAttribute(label)
	if !ok {
		return "", false
	}
	for _, atv := range s {
		if atv.Type.Equal(attributeOIDs[short]) {
			return fmt.Sprint(atv.Value), true
		}
	}
	return "", false
}

// Name returns a pkix.Name that encodes the attributes in order.
func (s Subject) Name() pkix.Name {
	var name pkix.Name
	name.ExtraNames = append([]pkix.AttributeTypeAndValue(nil), s...)
	return name
}

// String renders the subject in slash form, e.g. "/CN=example/O=Org".
func (s Subject) String() string {
	var sb strings.Builder
	for _, atv := range s {
		sb.WriteString("/")
		sb.WriteString(attributeShortName(atv.Type))
		sb.WriteString("=")
		sb.WriteString(fmt.Sprint(atv.Value))
	}
	return sb.String()
}
