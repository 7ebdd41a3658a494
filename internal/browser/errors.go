package browser

import (
	"context"
	"errors"
	"strings"

	pw "github.com/playwright-community/playwright-go"
)

// closedMarkers are fragments of the errors drivers raise once the user has
// closed the window, the context or the whole browser.
var closedMarkers = []string{
	"target page, context or browser has been closed",
	"page has been closed",
	"browser has been closed",
	"context has been closed",
	"connection closed",
	"use of closed network connection",
	"target closed",
	"no target with given id",
	"session with given id not found",
	"websocket: close",
	"browser has disconnected",
}

// IsClosedError reports whether err means the browser is gone and the session
// cannot continue. Context cancellation counts: it is how an interrupt arrives.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, pw.ErrTargetClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range closedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
