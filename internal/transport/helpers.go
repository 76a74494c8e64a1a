package transport

import (
	"errors"
	"io"
	"log"

	"github.com/ferrywell/cutout/internal/model"
)

func errorCodeDefiner(err error) int {
	switch {
	case errors.Is(err, model.ErrUnauthenticated):
		return 401
	case errors.Is(err, model.ErrQuotaExceeded):
		return 402
	case errors.Is(err, model.ErrTooLarge):
		return 413
	case errors.Is(err, model.ErrUnsupportedType):
		return 415
	case errors.Is(err, model.ErrResultNotFound):
		return 404
	case errors.Is(err, model.ErrNoImage),
		errors.Is(err, model.ErrBadFormat),
		errors.Is(err, model.ErrBrokenImage),
		errors.Is(err, model.ErrIncorrectID):
		return 400
	default:
		return 500
	}
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}
	if err := res.Close(); err != nil {
		log.Println("Handler failed to close fileflow:", err)
	}
}
