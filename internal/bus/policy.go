package bus

import "encoding/json"

// policyStatement is one entry of the Policy attribute's Statement array
// (spec.md §4.2).
type policyStatement struct {
	Sid       string          `json:"Sid"`
	Effect    string          `json:"Effect"`
	Principal policyPrincipal `json:"Principal"`
	Action    []string        `json:"Action"`
	Resource  string          `json:"Resource"`
}

type policyPrincipal struct {
	AWS []string `json:"AWS"`
}

type policyDocument struct {
	Version   string            `json:"Version,omitempty"`
	Id        string            `json:"Id,omitempty"`
	Statement []policyStatement `json:"Statement"`
}

func parsePolicy(raw string) (policyDocument, error) {
	if raw == "" {
		return policyDocument{}, nil
	}
	var doc policyDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return policyDocument{}, errInvalidParameter("Policy attribute is not valid JSON: %v", err)
	}
	return doc, nil
}
