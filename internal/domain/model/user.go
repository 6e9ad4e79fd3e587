package model

// BridgedUserID is the user id assigned to mailing-list senders whose
// messages were bridged into forge comments. Forge ids are numeric, so it
// cannot collide with a real account.
const BridgedUserID = "bridged"

// User is a forge account, or a synthetic mailing-list sender.
type User struct {
	ID       string
	Login    string
	FullName string
	Email    string // Only set for bridged users.
}

// IsBridged reports whether the user represents a mailing-list sender.
func (u User) IsBridged() bool {
	return u.ID == BridgedUserID
}

// DisplayName returns the full name, falling back to the login.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Login
}
