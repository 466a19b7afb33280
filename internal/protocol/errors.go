package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Hotspot/session layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrConflict     = "E_CONFLICT"
	ErrNotFound     = "E_NOT_FOUND"
	ErrRateLimit    = "E_RATE_LIMIT"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrConflict:        {},
	ErrNotFound:        {},
	ErrRateLimit:       {},
	ErrNoPermission:    {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
