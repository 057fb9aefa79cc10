package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrEditWindowExpired = errors.New("edit window expired")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInternal          = errors.New("internal error")
)

// Code returns the machine-readable kind of err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrEditWindowExpired):
		return "edit_window_expired"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	}
	return "internal"
}

// PublicMessage is the text shown to callers. Internal causes are not exposed.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if Code(err) == "internal" {
		return ErrInternal.Error()
	}
	return err.Error()
}
