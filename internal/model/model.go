// Package model holds the plain data types shared by the matching core.
package model

import "time"

// Role distinguishes the two sides of a practice pairing.
type Role string

const (
	RoleLearner Role = "learner"
	RoleFluent  Role = "fluent"
)

// Opposite returns the role a user can be paired with.
func (r Role) Opposite() Role {
	if r == RoleLearner {
		return RoleFluent
	}
	return RoleLearner
}

func (r Role) Valid() bool {
	return r == RoleLearner || r == RoleFluent
}

// User is the transient descriptor built per join attempt. It is what
// gets serialized into a queue bucket; it deliberately carries no
// connection identifier, because presence is looked up independently at
// match time and a queued snapshot can outlive connection changes.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	Role          Role      `json:"role"`
	Language      string    `json:"language"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Partner is the view of the other side handed to collaborators.
type Partner struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Language      string `json:"language"`
	Role          Role   `json:"role"`
}

// PartnerOf projects a descriptor into the partner summary stored on the
// opposite side's match record.
func PartnerOf(u User) Partner {
	return Partner{
		ID:            u.ID,
		Username:      u.Username,
		WalletAddress: u.WalletAddress,
		Language:      u.Language,
		Role:          u.Role,
	}
}

// Match is the short-lived record written per side of a committed pairing.
type Match struct {
	MatchID   string    `json:"match_id"`
	Partner   Partner   `json:"partner"`
	CreatedAt time.Time `json:"created_at"`
}
