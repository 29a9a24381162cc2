package classify

import "errors"

var (
	// ErrNoAPIKey is returned when the client is constructed without an
	// API key. Requests without the x-api-key header are rejected by the
	// service, so there is no point sending them.
	ErrNoAPIKey = errors.New("classify: api key not configured")
)
