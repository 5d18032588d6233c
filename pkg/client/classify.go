package client

import (
	"context"
	"errors"
	"net/http"
)

// ClassifyStatus maps an HTTP status code to an ErrorKind.
// It returns "" for 2xx codes and KindProtocol for codes outside 4xx/5xx.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status >= 400 && status < 600:
		return ClassifyCode(status)
	default:
		return KindProtocol
	}
}

// ClassifyCode maps a numeric code to an ErrorKind. It is used both for HTTP
// statuses and for the `error.code` embedded in response bodies, which the
// service may report inside a 200 envelope.
func ClassifyCode(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == 498, code == 499:
		return KindAuthRequired
	case code == http.StatusTooManyRequests:
		return KindServer
	case code >= 400 && code < 500:
		return KindClient
	case code >= 500 && code < 600:
		return KindServer
	default:
		// the server declared a failure with a code outside the HTTP ranges
		return KindClient
	}
}

// ClassifyTransport classifies an error returned by http.Client.Do.
// Errors caused by the caller's context are KindCanceled and never retried;
// everything else (refused connections, DNS, client timeouts) is KindTransport.
func ClassifyTransport(ctx context.Context, err error) *ClassifiedError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return NewError(KindCanceled, 0, "request cancelled", err)
	}
	return NewError(KindTransport, 0, "transport failure", err)
}
