package models

import "time"

// APIToken is one row of the api_tokens table.
type APIToken struct {
	TokenHash  string     `db:"token_hash"`
	ClientID   string     `db:"client_id"`
	IssuedAt   time.Time  `db:"issued_at"`
	ExpiresAt  *time.Time `db:"expires_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
	Revoked    bool       `db:"revoked"`
}

// TableName returns the table the rows live in.
func (APIToken) TableName() string {
	return "api_tokens"
}
