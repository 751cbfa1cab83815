package errors

// Category groups domain errors by how the API surfaces them.
type Category int

const (
	CategoryInternal Category = iota
	CategoryValidation
	CategoryNotFound
	CategoryConflict
	CategoryCapacity
	CategoryExpired
)

// Error is a typed domain error carrying a stable machine-readable code.
// All protocol failures are values of this type so callers can match with
// errors.Is and the transport layer can map them uniformly.
type Error struct {
	Category Category
	Code     string
	Message  string
}

func (e *Error) Error() string { return e.Message }

// Validation
var (
	ErrInvalidRequest  = &Error{CategoryValidation, "invalid_request", "malformed or incomplete request body"}
	ErrInvalidScore    = &Error{CategoryValidation, "invalid_score", "resonance score must be between 0 and 100"}
	ErrInvalidDay      = &Error{CategoryValidation, "invalid_day", "day does not match the connection's current day"}
	ErrSelfMatch       = &Error{CategoryValidation, "self_match", "cannot propose a match between a user and themselves"}
	ErrNotAParticipant = &Error{CategoryValidation, "not_a_participant", "user is not a participant"}
	ErrVoiceLocked     = &Error{CategoryValidation, "voice_locked", "voice messages unlock on day 6"}
	ErrInvalidKind     = &Error{CategoryValidation, "invalid_kind", "unknown message kind"}
	ErrInvalidTier     = &Error{CategoryValidation, "invalid_tier", "unknown subscription tier"}
)

// NotFound
var (
	ErrUnknownMatch       = &Error{CategoryNotFound, "unknown_match", "match not found"}
	ErrUnknownConnection  = &Error{CategoryNotFound, "unknown_connection", "connection not found"}
	ErrUnknownUser        = &Error{CategoryNotFound, "unknown_user", "user not found"}
	ErrHandshakeNotOpen   = &Error{CategoryNotFound, "handshake_not_open", "no handshake window is open for this day"}
)

// Conflict
var (
	ErrAlreadyResolved        = &Error{CategoryConflict, "already_resolved", "handshake already resolved or decision already recorded"}
	ErrAlreadyResponded       = &Error{CategoryConflict, "already_responded", "response already recorded for this side"}
	ErrConcurrentModification = &Error{CategoryConflict, "concurrent_modification", "record was modified concurrently, retry"}
	ErrConnectionClosed       = &Error{CategoryConflict, "connection_closed", "connection is no longer active"}
	ErrRevealUnavailable      = &Error{CategoryConflict, "reveal_unavailable", "connection has not completed the protocol"}
)

// CapacityExceeded
var (
	ErrNoAvailableSlot = &Error{CategoryCapacity, "no_available_slot", "no empty connection slot available"}
	ErrNoCapacity      = &Error{CategoryCapacity, "no_capacity", "all connection slots are occupied"}
)

// Expired
var (
	ErrMatchExpired    = &Error{CategoryExpired, "match_expired", "match response deadline has passed"}
	ErrDeadlineExpired = &Error{CategoryExpired, "deadline_expired", "handshake deadline has passed"}
)
