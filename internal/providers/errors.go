package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTransient
	}
	e := strings.ToLower(err.Error())
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case strings.Contains(e, "insufficient_quota"), strings.Contains(e, "quota"):
			return ErrorQuota
		case se.Code == http.StatusTooManyRequests:
			return ErrorRate
		case se.Code == http.StatusRequestEntityTooLarge, strings.Contains(e, "context_length"), strings.Contains(e, "too long"):
			return ErrorContext
		case se.Code >= 500, se.Code == http.StatusRequestTimeout:
			return ErrorTransient
		default:
			return ErrorPermanent
		}
	}
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}
