package automation

import (
	"sort"
	"strings"
)

// NodeKind identifies what a node does. The prefix of a kind names its
// category, e.g. "trigger_lead_created" is a trigger.
type NodeKind string

// Category groups node kinds for validation and display.
type Category string

const (
	CategoryTrigger Category = "trigger"
	CategoryAction  Category = "action"
	CategoryLogic   Category = "logic"
	CategoryData    Category = "data"
)

// TriggerType is the kind of event that starts a workflow. Each trigger type
// has a trigger node kind of the same name.
type TriggerType string

const (
	TriggerLeadCreated     TriggerType = "trigger_lead_created"
	TriggerLeadUpdated     TriggerType = "trigger_lead_updated"
	TriggerCustomerCreated TriggerType = "trigger_customer_created"
	TriggerOrderPlaced     TriggerType = "trigger_order_placed"
	TriggerInquiryReceived TriggerType = "trigger_inquiry_received"
	TriggerManual          TriggerType = "trigger_manual"
	TriggerWebhook         TriggerType = "trigger_webhook"
)

const (
	KindSendEmail   NodeKind = "action_send_email"
	KindCreateTask  NodeKind = "action_create_task"
	KindUpdateLead  NodeKind = "action_update_lead"
	KindHTTPRequest NodeKind = "action_http_request"
	KindSetVariable NodeKind = "action_set_variable"
	KindIfElse      NodeKind = "logic_if_else"
	KindSwitch      NodeKind = "logic_switch"
	KindDelay       NodeKind = "logic_delay"
	KindMerge       NodeKind = "logic_merge"
	KindGetLead     NodeKind = "data_get_lead"
	KindGetCustomer NodeKind = "data_get_customer"
	KindTransform   NodeKind = "data_transform"
)

var triggerTypes = []TriggerType{
	TriggerLeadCreated,
	TriggerLeadUpdated,
	TriggerCustomerCreated,
	TriggerOrderPlaced,
	TriggerInquiryReceived,
	TriggerManual,
	TriggerWebhook,
}

// TriggerTypes returns every supported trigger type.
func TriggerTypes() []TriggerType {
	return append([]TriggerType(nil), triggerTypes...)
}

// Valid reports whether t is a supported trigger type.
func (t TriggerType) Valid() bool {
	for _, tt := range triggerTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// Kind returns the trigger node kind for t.
func (t TriggerType) Kind() NodeKind {
	return NodeKind(t)
}

// Category derives the category from the kind prefix. Unknown prefixes
// return an empty category.
func (k NodeKind) Category() Category {
	prefix, _, ok := strings.Cut(string(k), "_")
	if !ok {
		return ""
	}
	switch c := Category(prefix); c {
	case CategoryTrigger, CategoryAction, CategoryLogic, CategoryData:
		return c
	}
	return ""
}

func (k NodeKind) IsTrigger() bool {
	return k.Category() == CategoryTrigger
}

// IsBranching reports whether edges leaving a node of this kind carry
// branch labels.
func (k NodeKind) IsBranching() bool {
	return k == KindIfElse || k == KindSwitch
}

// TriggerType returns the trigger type for a trigger kind.
func (k NodeKind) TriggerType() TriggerType {
	if !k.IsTrigger() {
		return ""
	}
	return TriggerType(k)
}

func sortKinds(kinds []NodeKind) {
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
}
