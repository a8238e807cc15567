package automation

// EntityType selects which data source a leaf rule evaluates against.
type EntityType string

const (
	EntityMetadata EntityType = "metadata"
	EntityUserData EntityType = "user_data"
	EntityScope    EntityType = "scope"
)

// Condition is a leaf-rule comparison operator.
type Condition string

const (
	CondEquals           Condition = "EQUALS"
	CondNotEquals        Condition = "NOT_EQUALS"
	CondContains         Condition = "CONTAINS"
	CondNotContains      Condition = "NOT_CONTAINS"
	CondIn               Condition = "IN"
	CondNotIn            Condition = "NOT_IN"
	CondGreaterThan      Condition = "GREATER_THAN"
	CondGreaterThanEqual Condition = "GREATER_THAN_EQUAL"
	CondLessThan         Condition = "LESS_THAN"
	CondLessThanEqual    Condition = "LESS_THAN_EQUAL"
	CondExists           Condition = "EXISTS"
	CondNotExists        Condition = "NOT_EXISTS"
)

// Operator combines sub-rules.
type Operator string

const (
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
)

// Rule is a boolean rule tree node: either a combinator (Operator + Rules)
// or a leaf (Attribute/Condition/Value/EntityType).
type Rule struct {
	Operator Operator `json:"operator,omitempty"`
	Rules    []Rule   `json:"rules,omitempty"`

	Attribute  string     `json:"attribute,omitempty"`
	Condition  Condition  `json:"condition,omitempty"`
	Value      any        `json:"value,omitempty"`
	EntityType EntityType `json:"entity_type,omitempty"`
}

// IsLeaf reports whether the node is a leaf rule.
func (r Rule) IsLeaf() bool {
	return r.Operator == ""
}

// TriggerType identifies the trigger kind.
type TriggerType string

const (
	TriggerTime        TriggerType = "TIME"
	TriggerMobileEvent TriggerType = "MOBILE_EVENT"
)

// PageVisitEvent is the only mobile-event trigger value currently
// recognized.
const PageVisitEvent = "page_visit"

// Trigger gates when an eligible automation may run again.
type Trigger struct {
	Type  TriggerType `json:"type"`
	Value string      `json:"value"`
}

// Action names a registered handler plus its arguments.
type Action struct {
	Type string         `json:"type"`
	Args map[string]any `json:"args,omitempty"`
}

// State enables or disables an automation.
type State string

const (
	StateEnabled  State = "ENABLED"
	StateDisabled State = "DISABLED"
)

// Automation is one declarative rule: when the rule tree matches and a
// trigger is eligible, the actions run and a last-run marker is recorded.
type Automation struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Rules    Rule      `json:"rules"`
	Triggers []Trigger `json:"triggers"`
	Actions  []Action  `json:"actions"`
	State    State     `json:"state"`
	Platform string    `json:"platform"`
}

// Enabled reports whether the automation may run on the given platform.
func (a Automation) Enabled(platform string) bool {
	return a.State == StateEnabled && (a.Platform == "" || a.Platform == platform)
}
