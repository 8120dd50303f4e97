package types

// TargetingContext is what a targeting hook knows about the unit it targets.
type TargetingContext struct {
	AdID         string `json:"ad_id"`
	Placement    string `json:"placement"`
	ElementID    string `json:"element_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RefreshCount int    `json:"refresh_count"`
}

// TargetingFunc returns the key/value pairs to set on a slot. It replaces overriding
// addTargeting on a component subclass.
type TargetingFunc func(TargetingContext) map[string]string
