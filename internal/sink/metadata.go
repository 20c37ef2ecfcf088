package sink

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"meetingsync/internal/catalog"
)

// listFields become element lists split on ';' when building the episode
// Dublin Core document.
var listFields = map[string]bool{
	"publisher": true, "contributor": true, "presenter": true,
	"creator": true, "subjects": true,
}

type dcElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type dublinCoreDoc struct {
	XMLName  xml.Name    `xml:"dublincore"`
	Xmlns    string      `xml:"xmlns,attr"`
	XmlnsDC  string      `xml:"xmlns:dcterms,attr"`
	Elements []dcElement `xml:",any"`
}

// BuildEpisodeDublinCore renders the episode Dublin Core document per the
// Sink's metadata shaping rules: list fields split on ';' become repeated
// dcterms elements, "date" maps to dcterms:created, "duration" (minutes)
// maps to dcterms:extent as an ISO-8601 duration, dcterms:spatial defaults
// to "Zoom" when absent, and fields prefixed "origin" or "eth-" are
// skipped (they belong to the institutional extension document instead).
func BuildEpisodeDublinCore(fields map[string]string, durationMinutes int) ([]byte, error) {
	doc := dublinCoreDoc{
		Xmlns:   "http://www.opencastproject.org/xsd/1.0/dublincore/",
		XmlnsDC: "http://purl.org/dc/terms/",
	}
	hasSpatial := false
	keys := sortedKeys(fields)
	for _, key := range keys {
		if strings.HasPrefix(key, "origin") || strings.HasPrefix(key, "eth-") || key == "duration" {
			continue
		}
		value := fields[key]
		name := dcTermName(key)
		if name == "dcterms:spatial" {
			hasSpatial = true
		}
		if listFields[key] {
			for _, part := range strings.Split(value, ";") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				doc.Elements = append(doc.Elements, dcElement{XMLName: xml.Name{Local: name}, Value: part})
			}
			continue
		}
		doc.Elements = append(doc.Elements, dcElement{XMLName: xml.Name{Local: name}, Value: value})
	}
	if durationMinutes > 0 {
		hours := durationMinutes / 60
		minutes := durationMinutes - 60*hours
		extent := fmt.Sprintf("PT%dH%dM0S", hours, minutes)
		doc.Elements = append(doc.Elements, dcElement{XMLName: xml.Name{Local: "dcterms:extent"}, Value: extent})
	}
	if !hasSpatial {
		doc.Elements = append(doc.Elements, dcElement{XMLName: xml.Name{Local: "dcterms:spatial"}, Value: "Zoom"})
	}
	return marshalWithHeader(doc)
}

func dcTermName(key string) string {
	switch key {
	case "date":
		return "dcterms:created"
	default:
		return "dcterms:" + key
	}
}

// BuildEthterms renders the institutional extension document: only
// "eth-*" fields survive, stripped of the prefix; "eth-advertised" is
// normalized to the literal strings "true"/"false".
func BuildEthterms(fields map[string]string) ([]byte, error) {
	type doc struct {
		XMLName  xml.Name    `xml:"ethterms"`
		Xmlns    string      `xml:"xmlns,attr"`
		Elements []dcElement `xml:",any"`
	}
	d := doc{Xmlns: "http://www.opencastproject.org/xsd/1.0/ethterms/"}
	for _, key := range sortedKeys(fields) {
		if !strings.HasPrefix(key, "eth-") {
			continue
		}
		name := strings.TrimPrefix(key, "eth-")
		value := fields[key]
		if name == "advertised" {
			if value == "on" {
				value = "true"
			} else {
				value = "false"
			}
		}
		d.Elements = append(d.Elements, dcElement{XMLName: xml.Name{Local: name}, Value: value})
	}
	return marshalWithHeader(d)
}

// HasEthtermsFields reports whether fields contains any extension metadata,
// used to decide whether step 3 of the ingest protocol (addDCCatalog
// ethterms/episode) runs at all.
func HasEthtermsFields(fields map[string]string) bool {
	for key := range fields {
		if strings.HasPrefix(key, "eth-") {
			return true
		}
	}
	return false
}

// XACML policy element shapes, modeled on the standard XACML 2.0
// permit-overrides combining algorithm used by policy-scoped ACLs.
type xacmlRule struct {
	RuleID string `xml:"RuleId,attr"`
	Effect string `xml:"Effect,attr"`
	Target struct {
		Actions struct {
			Action struct {
				AttributeValue string `xml:"AttributeValue"`
			} `xml:"Action"`
		} `xml:"Actions"`
	} `xml:"Target"`
	Condition *xacmlCondition `xml:"Condition,omitempty"`
}

type xacmlCondition struct {
	FunctionID string `xml:"FunctionId,attr"`
	Apply      struct {
		FunctionID     string `xml:"FunctionId,attr"`
		AttributeValue string `xml:"AttributeValue"`
		SubjectAttr    struct {
			AttributeID string `xml:"AttributeId,attr"`
		} `xml:"SubjectAttributeDesignator"`
	} `xml:"Apply"`
}

type xacmlPolicy struct {
	XMLName       xml.Name    `xml:"Policy"`
	Xmlns         string      `xml:"xmlns,attr"`
	PolicyID      string      `xml:"PolicyId,attr"`
	CombalgID     string      `xml:"RuleCombiningAlgId,attr"`
	Target        struct{}    `xml:"Target"`
	Rules         []xacmlRule `xml:"Rule"`
}

// BuildXACMLPolicy builds an episode XACML policy scoped to resourceID:
// one Permit rule per (role, action) Ace in acl.Aces, plus a terminal deny
// rule (spec §4.3 "Episode XACML policy").
func BuildXACMLPolicy(resourceID string, acl catalog.ACL) ([]byte, error) {
	policy := xacmlPolicy{
		Xmlns:     "urn:oasis:names:tc:xacml:2.0:policy:schema:os",
		PolicyID:  "mediapackage-" + resourceID,
		CombalgID: "urn:oasis:names:tc:xacml:1.0:rule-combining-algorithm:permit-overrides",
	}
	for i, ace := range acl.Aces {
		if !ace.Allow {
			continue
		}
		rule := xacmlRule{RuleID: fmt.Sprintf("rule-%d", i), Effect: "Permit"}
		rule.Target.Actions.Action.AttributeValue = ace.Action
		cond := &xacmlCondition{FunctionID: "urn:oasis:names:tc:xacml:1.0:function:string-equal"}
		cond.Apply.FunctionID = "urn:oasis:names:tc:xacml:1.0:function:string-equal"
		cond.Apply.AttributeValue = ace.Role
		cond.Apply.SubjectAttr.AttributeID = "urn:oasis:names:tc:xacml:2.0:subject:role"
		rule.Condition = cond
		policy.Rules = append(policy.Rules, rule)
	}
	policy.Rules = append(policy.Rules, xacmlRule{RuleID: "DenyRule", Effect: "Deny"})
	return marshalWithHeader(policy)
}

func marshalWithHeader(v any) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
