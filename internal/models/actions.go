package models

// ActionKind is the closed set of classifier verdicts.
type ActionKind string

const (
	ActionKeep        ActionKind = "keep"
	ActionInbox       ActionKind = "inbox"
	ActionReceipt     ActionKind = "receipt"
	ActionTravel      ActionKind = "travel"
	ActionFinance     ActionKind = "finance"
	ActionMedical     ActionKind = "medical"
	ActionRecruitment ActionKind = "recruitment"
	ActionFile        ActionKind = "file"
	ActionMarketing   ActionKind = "marketing"
	ActionEphemeral   ActionKind = "ephemeral"
	ActionSpam        ActionKind = "spam"
	ActionSkip        ActionKind = "skip"
)

var trashActions = map[ActionKind]bool{
	ActionMarketing: true,
	ActionEphemeral: true,
	ActionSpam:      true,
}

var fileActions = map[ActionKind]bool{
	ActionReceipt:     true,
	ActionTravel:      true,
	ActionFinance:     true,
	ActionMedical:     true,
	ActionRecruitment: true,
	ActionFile:        true,
}

// IsTrash reports whether the action deletes the message.
func (a ActionKind) IsTrash() bool { return trashActions[a] }

// IsFile reports whether the action moves the message to an archive folder.
func (a ActionKind) IsFile() bool { return fileActions[a] }
