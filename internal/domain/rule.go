package domain

import "net/http"

// EnforcementRule: правило декларативного движка перезаписи заголовков.
// Форма повторяет declarativeNetRequest: id, приоритет, условие и действие.
type EnforcementRule struct {
	ID        int           `json:"id"`
	Priority  int           `json:"priority"`
	Action    RuleAction    `json:"action"`
	Condition RuleCondition `json:"condition"`
}

// RuleAction: что делать с ответом.
type RuleAction struct {
	Type            string            `json:"type"` // всегда "modifyHeaders"
	ResponseHeaders []HeaderOperation `json:"responseHeaders,omitempty"`
}

// HeaderOperation: модификация одного заголовка ответа.
type HeaderOperation struct {
	Header    string `json:"header"`
	Operation string `json:"operation"` // "set", "remove", "append"
	Value     string `json:"value,omitempty"`
}

// RuleCondition: когда правило срабатывает.
type RuleCondition struct {
	InitiatorDomains []string `json:"initiatorDomains,omitempty"`
	RequestDomains   []string `json:"requestDomains,omitempty"`
	URLFilter        string   `json:"urlFilter,omitempty"` // "*" когда хосты не ограничены
	ResourceTypes    []string `json:"resourceTypes,omitempty"`
	DomainType       string   `json:"domainType,omitempty"`
}

// HeaderAllowOrigin: заголовок, по значению которого правило связано со своим origin'ом.
const HeaderAllowOrigin = "Access-Control-Allow-Origin"

const (
	ActionModifyHeaders = "modifyHeaders"
	HeaderOpSet         = "set"
	HeaderOpAppend      = "append"
	HeaderOpRemove      = "remove"

	ResourceXMLHTTPRequest = "xmlhttprequest"
	ResourceImage          = "image"
	DomainTypeThirdParty   = "thirdParty"
)

// RuleUpdate: пакетное изменение набора правил: сначала удаления, потом добавления.
type RuleUpdate struct {
	AddRules      []EnforcementRule
	RemoveRuleIDs []int
}

// ApplyResponseHeaders применяет модификации действия к заголовкам ответа.
func (a RuleAction) ApplyResponseHeaders(h http.Header) {
	for _, op := range a.ResponseHeaders {
		switch op.Operation {
		case HeaderOpSet:
			h.Set(op.Header, op.Value)
		case HeaderOpAppend:
			h.Add(op.Header, op.Value)
		case HeaderOpRemove:
			h.Del(op.Header)
		}
	}
}

// AllowOrigin достает origin из действия правила (значение Access-Control-Allow-Origin).
// По нему правило однозначно связано с записью, даже если hostname у origin'ов совпадает.
func (r EnforcementRule) AllowOrigin() string {
	for _, op := range r.Action.ResponseHeaders {
		if op.Header == HeaderAllowOrigin {
			return op.Value
		}
	}
	return ""
}
