package targeting

import "strings"

// Condition is the comparison a rule applies to its values.
type Condition string

const (
	Is          Condition = "is"
	IsNot       Condition = "is_not"
	Contains    Condition = "contains"
	NotContains Condition = "not_contains"
	GreaterThan Condition = "greater_than"
	LessThan    Condition = "less_than"
	InList      Condition = "in_list"
	NotInList   Condition = "not_in_list"
)

// ParseCondition accepts both "is_not" and "is-not" spellings.
func ParseCondition(s string) Condition {
	return Condition(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
}

// LogicOp joins a rule to the accumulated result of the rules before it.
type LogicOp string

const (
	And LogicOp = "and"
	Or  LogicOp = "or"
)

// ParseLogicOp defaults to And for anything that is not "or".
func ParseLogicOp(s string) LogicOp {
	if strings.EqualFold(strings.TrimSpace(s), "or") {
		return Or
	}
	return And
}

// Rule targets one condition type. LogicOp is ignored on the first rule of a ruleset.
type Rule struct {
	TargetKey string    `json:"target" yaml:"target"`
	Condition Condition `json:"condition" yaml:"condition"`
	Values    []string  `json:"values" yaml:"values"`
	LogicOp   LogicOp   `json:"logic,omitempty" yaml:"logic"`
}

// Ruleset is an ordered rule chain scoped to a single ad or group.
// Type names what the rules target ("content", "visitor").
type Ruleset struct {
	Type  string `json:"type" yaml:"type"`
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Normalize canonicalizes keys, conditions and operators in place.
func (rs *Ruleset) Normalize() {
	rs.Type = strings.ToLower(strings.TrimSpace(rs.Type))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		r.TargetKey = normalizeKey(r.TargetKey)
		r.Condition = ParseCondition(string(r.Condition))
		r.LogicOp = ParseLogicOp(string(r.LogicOp))
		for j, v := range r.Values {
			r.Values[j] = strings.TrimSpace(v)
		}
	}
}

// normalizeKey lower-cases the handler part of a key but keeps custom names
// ("query:utm_Source") intact.
func normalizeKey(k string) string {
	k = strings.TrimSpace(k)
	if i := strings.IndexByte(k, ':'); i >= 0 {
		return strings.ToLower(k[:i]) + k[i:]
	}
	return strings.ToLower(k)
}
