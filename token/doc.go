// Package token issues and verifies the two signed token classes used by the
// engine: short-lived access tokens and long-lived refresh tokens. Each class
// is signed with its own secret, so a token of one class can never verify as
// the other.
package token
