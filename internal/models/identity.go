package models

// Identity is the signed-in visitor identity supplied by the external
// identification subsystem (SSO or manual form). It is attached to
// sessions and summaries but is not part of the state machine's own
// invariants.
type Identity struct {
	Subject string `json:"subject,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Mobile  string `json:"mobile,omitempty"`
}

// Anonymous reports whether the identity carries no identifying claims
func (i *Identity) Anonymous() bool {
	return i == nil || (i.Subject == "" && i.Name == "" && i.Email == "" && i.Mobile == "")
}
