// Package ledger tracks issued refresh tokens in Redis so that each token is
// exchangeable exactly once. Records are keyed by the SHA-256 of the token
// string; the raw token never touches the store. Rotation and revocation run
// as Lua scripts so two concurrent exchanges of the same token cannot both
// win.
package ledger
