package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/gateway"
)

// ErrResponse renderer type for handling all sorts of errors
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found."}

var statusMap = []struct {
	err    error
	status int
	text   string
}{
	{gateway.ErrNoNode, http.StatusNotFound, "Unknown node."},
	{levcan.ErrNodeOffline, http.StatusServiceUnavailable, "Node offline."},
	{levcan.ErrCollision, http.StatusConflict, "Transfer in progress."},
	{levcan.ErrBufferFull, http.StatusServiceUnavailable, "Bus busy."},
	{levcan.ErrOutOfMemory, http.StatusServiceUnavailable, "Out of transfers."},
	{levcan.ErrTimeout, http.StatusGatewayTimeout, "Transfer timed out."},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "Transfer timed out."},
	{levcan.ErrIllegalArgument, http.StatusBadRequest, "Invalid request."},
}

// ErrFromLevcan maps protocol errors to an http status
func ErrFromLevcan(err error) render.Renderer {
	for _, s := range statusMap {
		if errors.Is(err, s.err) {
			return &ErrResponse{Err: err, HTTPStatusCode: s.status, StatusText: s.text, ErrorText: err.Error()}
		}
	}
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusInternalServerError, StatusText: "Internal error.", ErrorText: err.Error()}
}
