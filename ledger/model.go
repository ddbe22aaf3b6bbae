package ledger

import "time"

// State classifies a Record at a point in time.
type State int

const (
	StateActive State = iota
	StateRotated
	StateRevoked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRotated:
		return "rotated"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Record is one refresh token's ledger row. All fields are serialized even
// when zero so the rotation script can update them in place.
type Record struct {
	AccountID  string `json:"account_id"`
	IssuedAt   int64  `json:"issued_at"`
	ExpiresAt  int64  `json:"expires_at"`
	RevokedAt  int64  `json:"revoked_at"`
	ReplacedBy string `json:"replaced_by"`
}

// StateAt classifies the record as of now. Rotation sets both RevokedAt and
// ReplacedBy, so ReplacedBy is checked first; either way a consumed token
// still reads as consumed after it expires.
func (r Record) StateAt(now time.Time) State {
	if r.ReplacedBy != "" {
		return StateRotated
	}
	if r.RevokedAt > 0 {
		return StateRevoked
	}
	if r.ExpiresAt <= now.Unix() {
		return StateExpired
	}
	return StateActive
}
