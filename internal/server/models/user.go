package models

import "time"

// User is the slice of the account record the relay works with. Accounts
// are created elsewhere; the relay only reads them, sets the public key on
// key exchange and flips the online flag.
type User struct {
	ID        string
	UserName  string
	PublicKey string // armored; empty until the first key exchange
	Online    bool
	CreatedAt time.Time
}

// HasKey reports whether the user completed a key exchange.
func (u *User) HasKey() bool {
	return u != nil && u.PublicKey != ""
}
