package selection

import (
	"errors"
	"fmt"
	"strings"

	"ad-decision-engine/internal/targeting"
)

// Method is a group's ordering policy.
type Method string

const (
	Sequential Method = "sequential"
	Random     Method = "random"
	Weighted   Method = "weighted"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case Sequential, Random, Weighted:
		return m, nil
	case "":
		return Sequential, nil
	default:
		return "", fmt.Errorf("unknown order method %q", s)
	}
}

// Candidate is one ad inside a group.
type Candidate struct {
	ID         string              `json:"id" yaml:"id"`
	Title      string              `json:"title,omitempty" yaml:"title"`
	Weight     int                 `json:"weight" yaml:"weight"`
	Active     bool                `json:"-" yaml:"active"`
	Markup     string              `json:"markup" yaml:"markup"`
	TrackingID string              `json:"tracking_id" yaml:"tracking_id"`
	Targeting  []targeting.Ruleset `json:"-" yaml:"targeting"`
}

// Group owns an ordered list of candidates and the policy that orders them.
type Group struct {
	ID        string              `yaml:"id"`
	Method    Method              `yaml:"order"`
	Members   []Candidate         `yaml:"ads"`
	Targeting []targeting.Ruleset `yaml:"targeting"`
}

var ErrNegativeWeight = errors.New("negative weight")

// Validate checks group invariants. Weighted groups require non-negative
// weights; a missing weight is stored as the default 1 by the loaders.
func (g Group) Validate() error {
	if _, err := ParseMethod(string(g.Method)); err != nil {
		return fmt.Errorf("group %s: %w", g.ID, err)
	}
	if g.Method != Weighted {
		return nil
	}
	for _, m := range g.Members {
		if m.Active && m.Weight < 0 {
			return fmt.Errorf("group %s ad %s: %w", g.ID, m.ID, ErrNegativeWeight)
		}
	}
	return nil
}
