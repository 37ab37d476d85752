package authority

import "errors"

var (
	ErrUnauthorized    = errors.New("authority: unauthorized")
	ErrInvalidIdentity = errors.New("authority: invalid identity")
	ErrNoAdministrator = errors.New("authority: administrator not configured")
	ErrRemoveAdmin     = errors.New("authority: administrator cannot be removed")
)
