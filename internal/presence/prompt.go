package presence

// OptOutStore is the durable "don't ask again" record, keyed by
// (operator, contact). Set on dismiss, cleared never.
type OptOutStore interface {
	SetPromptOptOut(operatorID, contactID string) error
	PromptOptedOut(operatorID, contactID string) (bool, error)
}

// Prompter decides when to show the assignment prompt after an operator
// replies into an unassigned conversation: on the first message of the
// session and again every Nth message, unless the operator opted out for
// that contact.
type Prompter struct {
	prefs  OptOutStore
	everyN int
}

// NewPrompter creates a prompt policy. everyN defaults to 10.
func NewPrompter(prefs OptOutStore, everyN int) *Prompter {
	if everyN <= 0 {
		everyN = 10
	}
	return &Prompter{prefs: prefs, everyN: everyN}
}

// ShouldPrompt reports whether to show the assignment prompt after the
// operator's sessionMessageCount-th reply into an unassigned conversation.
func (p *Prompter) ShouldPrompt(operatorID, contactID string, sessionMessageCount int) (bool, error) {
	if sessionMessageCount < 1 {
		return false, nil
	}
	optedOut, err := p.prefs.PromptOptedOut(operatorID, contactID)
	if err != nil {
		return false, err
	}
	if optedOut {
		return false, nil
	}
	if sessionMessageCount == 1 {
		return true, nil
	}
	return sessionMessageCount%p.everyN == 0, nil
}

// Dismiss records a permanent opt-out for this operator and contact.
func (p *Prompter) Dismiss(operatorID, contactID string) error {
	return p.prefs.SetPromptOptOut(operatorID, contactID)
}
