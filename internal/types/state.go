package types

import "time"

// UnitState is a point-in-time view of one ad unit's state machine.
type UnitState struct {
	AdID             string `json:"ad_id"`
	Placement        string `json:"placement"`
	ElementID        string `json:"element_id"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	RefreshCount     int    `json:"refresh_count"`
	RefreshLimit     int    `json:"refresh_limit"`
	InViewport       bool   `json:"in_viewport"`
	InForeground     bool   `json:"in_foreground"`
	IsRefreshDue     bool   `json:"is_refresh_due"`
	IsRefreshOverdue bool   `json:"is_refresh_overdue"`
	CountdownPending bool   `json:"countdown_pending"`
	SlotDefined      bool   `json:"slot_defined"`
	Destroyed        bool   `json:"destroyed"`
}

type ImpressionKind string

const (
	ImpressionDisplay ImpressionKind = "display"
	ImpressionRefresh ImpressionKind = "refresh"

	// HardLimitRecentItems caps the per-unit impression history kept by ledger backends.
	HardLimitRecentItems = 128
)

// Impression is emitted every time a display or refresh command is issued for a unit.
// PageViewID is stamped by the ledger.
type Impression struct {
	PageViewID   string         `json:"page_view_id" dynamodbav:"page_view_id"`
	Kind         ImpressionKind `json:"kind" dynamodbav:"kind"`
	AdID         string         `json:"ad_id" dynamodbav:"ad_id"`
	Placement    string         `json:"placement" dynamodbav:"placement"`
	ElementID    string         `json:"element_id" dynamodbav:"element_id"`
	RefreshCount int            `json:"refresh_count" dynamodbav:"refresh_count"`
	At           time.Time      `json:"at" dynamodbav:"at"`
}

// ImpressionCounts is the aggregated view a ledger backend keeps per (AdID, Placement).
type ImpressionCounts struct {
	AdID      string `json:"ad_id" dynamodbav:"ad_id"`
	Placement string `json:"placement" dynamodbav:"placement"`
	Displays  int64  `json:"displays" dynamodbav:"display"`
	Refreshes int64  `json:"refreshes" dynamodbav:"refresh"`
}

// AppendRecent appends an Impression keeping at most cap entries, most recent last.
func AppendRecent(rs []Impression, imp Impression, cap int) []Impression {
	rs = append(rs, imp)
	if len(rs) > cap {
		rs = rs[len(rs)-cap:]
	}
	return rs
}
