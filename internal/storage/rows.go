package storage

// GroupRow is a group with its ads and group-level targeting, as persisted.
type GroupRow struct {
	ID          string       `yaml:"id"`
	OrderMethod string       `yaml:"order"`
	Targeting   []RulesetRow `yaml:"targeting"`
	Ads         []AdRow      `yaml:"ads"`
}

// AdRow is one group member. A nil Weight means "not set" (default 1).
type AdRow struct {
	ID         string       `yaml:"id"`
	Title      string       `yaml:"title"`
	Weight     *int         `yaml:"weight"`
	Active     bool         `yaml:"active"`
	Markup     string       `yaml:"markup"`
	TrackingID string       `yaml:"tracking_id"`
	Targeting  []RulesetRow `yaml:"targeting"`
}

type RulesetRow struct {
	Type  string    `yaml:"type"`
	Rules []RuleRow `yaml:"rules"`
}

type RuleRow struct {
	TargetKey string   `yaml:"target"`
	Condition string   `yaml:"condition"`
	Values    []string `yaml:"values"`
	LogicOp   string   `yaml:"logic"`
}

// EventRow is one tracked ad event accepted by the collector.
type EventRow struct {
	ID     string
	AdID   string
	Action string
	At     int64 // unix millis
}
