package bus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FilterPolicy is a parsed subscription FilterPolicy: each key names a
// message attribute and maps to a list of candidate values or match
// expressions, any one of which accepts the attribute.
type FilterPolicy map[string][]any

// ParseFilterPolicy parses a subscription's raw FilterPolicy attribute. An
// empty string means "no filter"; everything matches.
func ParseFilterPolicy(raw string) (FilterPolicy, error) {
	if raw == "" {
		return nil, nil
	}
	var fp FilterPolicy
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		return nil, errInvalidParameter("FilterPolicy is not valid JSON: %v", err)
	}
	return fp, nil
}

// Matches reports whether attrs satisfies every key of the policy.
// Spec.md §4.4: "a filter is a JSON object whose keys must each be present
// in the message attributes and whose value ... must accept the
// attribute's value." An unset policy (nil/empty) accepts everything.
func (fp FilterPolicy) Matches(attrs map[string]MessageAttributeValue) bool {
	if len(fp) == 0 {
		return true
	}
	for key, candidates := range fp {
		attr, present := attrs[key]
		if !matchesCandidates(candidates, attr, present) {
			return false
		}
	}
	return true
}

func matchesCandidates(candidates []any, attr MessageAttributeValue, present bool) bool {
	for _, c := range candidates {
		switch v := c.(type) {
		case string:
			if present && attr.StringValue == v {
				return true
			}
		case float64:
			if present && attr.DataType == "Number" {
				if n, err := strconv.ParseFloat(attr.StringValue, 64); err == nil && n == v {
					return true
				}
			}
		case map[string]any:
			if matchesExpression(v, attr, present) {
				return true
			}
		}
	}
	return false
}

func matchesExpression(expr map[string]any, attr MessageAttributeValue, present bool) bool {
	if want, ok := expr["exists"]; ok {
		wantBool, _ := want.(bool)
		return wantBool == present
	}
	if !present {
		return false
	}
	if prefix, ok := expr["prefix"]; ok {
		return strings.HasPrefix(attr.StringValue, fmt.Sprint(prefix))
	}
	if excluded, ok := expr["anything-but"]; ok {
		return !containsValue(excluded, attr.StringValue)
	}
	return false
}

func containsValue(excluded any, value string) bool {
	switch v := excluded.(type) {
	case []any:
		for _, item := range v {
			if fmt.Sprint(item) == value {
				return true
			}
		}
		return false
	default:
		return fmt.Sprint(v) == value
	}
}
