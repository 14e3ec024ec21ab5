package engine

import (
	"fmt"
	"strings"
)

// Kind classifies a domain error for transport mapping.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindState          Kind = "state"
	KindConflict       Kind = "conflict"
	KindInfrastructure Kind = "infrastructure"
)

// Stable reason codes carried by domain errors.
const (
	CodeTerminalStage        = "TERMINAL_STAGE"
	CodeMissingOpinion       = "MISSING_OPINION"
	CodeNoTramitacao         = "NO_TRAMITACAO"
	CodeStageNoAgenda        = "STAGE_DOES_NOT_ENABLE_AGENDA"
	CodeDuplicateStageOrder  = "DUPLICATE_STAGE_ORDER"
	CodeMalformedCondition   = "MALFORMED_CONDITION"
	CodeActiveTramitacao     = "ACTIVE_TRAMITACAO_EXISTS"
	CodeFlowExists           = "FLOW_EXISTS"
	CodeStageConflict        = "STAGE_ADVANCE_CONFLICT"
	CodeSessionCancelled     = "SESSION_CANCELLED"
	CodeSessionState         = "SESSION_STATE"
	CodeItemState            = "ITEM_STATE"
	CodePresenceWindow       = "PRESENCE_WINDOW"
	CodeInvalidChoice        = "INVALID_CHOICE"
	CodeTallyRequired        = "TALLY_REQUIRED"
	CodeIneligibleItem       = "INELIGIBLE_ITEM"
	CodeAgendaPublished      = "AGENDA_ALREADY_PUBLISHED"
	CodeInvalidRegime        = "INVALID_REGIME"
	CodeUnknownConditionKind = "UNKNOWN_CONDITION_KIND"
)

// Error is a typed domain error with a stable reason code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

func validationErr(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFoundErr(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func stateErr(code, format string, args ...any) *Error {
	return &Error{Kind: KindState, Code: code, Message: fmt.Sprintf(format, args...)}
}

func conflictErr(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorList aggregates non-fatal validation/state problems so an operator
// sees every issue at once (agenda publication uses this).
type ErrorList struct {
	Errors []*Error
}

func (l *ErrorList) Error() string {
	msgs := make([]string, 0, len(l.Errors))
	for _, e := range l.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

func (l *ErrorList) append(e *Error) {
	l.Errors = append(l.Errors, e)
}

func (l *ErrorList) orNil() error {
	if len(l.Errors) == 0 {
		return nil
	}
	return l
}
