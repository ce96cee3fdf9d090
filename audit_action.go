package impersonate

import (
	"encoding/json"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// AuditActionType names the kind of action recorded in an AuditEntry.
type AuditActionType string

const (
	ActionPageView      AuditActionType = "page_view"
	ActionFormSubmit    AuditActionType = "form_submit"
	ActionRecordCreate  AuditActionType = "record_create"
	ActionRecordUpdate  AuditActionType = "record_update"
	ActionRecordDelete  AuditActionType = "record_delete"
	ActionSettingChange AuditActionType = "setting_change"
)

// AuditAction is a typed description of something done while impersonating.
type AuditAction interface {
	ActionType() AuditActionType
	Validate() error
}

// PageView records a page visit.
type PageView struct {
	Title    string `json:"title,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

func (PageView) ActionType() AuditActionType { return ActionPageView }

func (a PageView) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Title, validation.Length(0, 512)),
		validation.Field(&a.Referrer, validation.Length(0, 2048)),
	)
}

// FormSubmit records a submitted form. Field values are never captured.
type FormSubmit struct {
	Form   string   `json:"form"`
	Fields []string `json:"fields,omitempty"`
}

func (FormSubmit) ActionType() AuditActionType { return ActionFormSubmit }

func (a FormSubmit) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Form, validation.Required, validation.Length(1, 256)),
	)
}

// RecordCreate records the creation of a resource.
type RecordCreate struct {
	Resource string `json:"resource"`
	RecordID string `json:"record_id"`
}

func (RecordCreate) ActionType() AuditActionType { return ActionRecordCreate }

func (a RecordCreate) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Resource, validation.Required),
		validation.Field(&a.RecordID, validation.Required),
	)
}

// RecordUpdate records a change to a resource and the fields touched.
type RecordUpdate struct {
	Resource string   `json:"resource"`
	RecordID string   `json:"record_id"`
	Changes  []string `json:"changes,omitempty"`
}

func (RecordUpdate) ActionType() AuditActionType { return ActionRecordUpdate }

func (a RecordUpdate) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Resource, validation.Required),
		validation.Field(&a.RecordID, validation.Required),
	)
}

// RecordDelete records the removal of a resource.
type RecordDelete struct {
	Resource string `json:"resource"`
	RecordID string `json:"record_id"`
}

func (RecordDelete) ActionType() AuditActionType { return ActionRecordDelete }

func (a RecordDelete) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Resource, validation.Required),
		validation.Field(&a.RecordID, validation.Required),
	)
}

// SettingChange records a settings update.
type SettingChange struct {
	Setting string `json:"setting"`
	From    any    `json:"from,omitempty"`
	To      any    `json:"to,omitempty"`
}

func (SettingChange) ActionType() AuditActionType { return ActionSettingChange }

func (a SettingChange) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Setting, validation.Required),
	)
}

// ValidateAuditAction checks action and returns ErrInvalidAuditAction on failure.
func ValidateAuditAction(action AuditAction) error {
	if action == nil {
		return ErrInvalidAuditAction
	}
	if err := action.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, ErrInvalidAuditAction.Message).
			WithTextCode(TextCodeInvalidAction).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"action_type": string(action.ActionType())})
	}
	return nil
}

// DecodeAuditAction rebuilds a typed action from its wire form.
func DecodeAuditAction(actionType string, details json.RawMessage) (AuditAction, error) {
	var action AuditAction
	switch AuditActionType(strings.TrimSpace(actionType)) {
	case ActionPageView:
		action = &PageView{}
	case ActionFormSubmit:
		action = &FormSubmit{}
	case ActionRecordCreate:
		action = &RecordCreate{}
	case ActionRecordUpdate:
		action = &RecordUpdate{}
	case ActionRecordDelete:
		action = &RecordDelete{}
	case ActionSettingChange:
		action = &SettingChange{}
	default:
		return nil, goerrors.New("unknown audit action type", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidAction).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"action_type": actionType})
	}

	if len(details) > 0 && string(details) != "null" {
		if err := json.Unmarshal(details, action); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed audit action details").
				WithTextCode(TextCodeInvalidAction).
				WithCode(goerrors.CodeBadRequest)
		}
	}

	if err := ValidateAuditAction(action); err != nil {
		return nil, err
	}
	return action, nil
}

// auditActionDetails flattens action into the JSON object stored on AuditEntry.
func auditActionDetails(action AuditAction) (map[string]any, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode audit action")
	}
	details := map[string]any{}
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode audit action")
	}
	return details, nil
}
