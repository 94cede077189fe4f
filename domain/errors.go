package domain

import "errors"

var (
	ErrMalformedMessage = errors.New("recognition request is not valid JSON")
	ErrNoImages         = errors.New("recognition request carries no images")
	ErrForbidden        = errors.New("image host refused the request")
	ErrNotAnImage       = errors.New("response is not an image")
	ErrImageTooLarge    = errors.New("image exceeds size limit")
	ErrEmptyImage       = errors.New("image body is empty")
	ErrReasoningRefused = errors.New("reasoning provider refused identification")
)
