// Package identity holds the identifier of the current conversation.
package identity

import "github.com/google/uuid"

// Session is the client's conversation id. It starts as a locally generated
// provisional value and is replaced by the id the server assigns.
type Session struct {
	id        string
	confirmed bool
}

// New returns a provisional identity.
func New() *Session {
	return &Session{id: uuid.NewString()}
}

// Get returns the current id.
func (s *Session) Get() string { return s.id }

// Set records a server-assigned id. Later status messages overwrite earlier
// ones; an empty id is ignored.
func (s *Session) Set(id string) bool {
	if id == "" {
		return false
	}
	s.id = id
	s.confirmed = true
	return true
}

// Confirmed reports whether the server has assigned the id on the current connection.
func (s *Session) Confirmed() bool { return s.confirmed }

// Unconfirm marks the id provisional again; called when a new connection opens.
func (s *Session) Unconfirm() { s.confirmed = false }
