package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/loft-sh/wsmaster/pkg/apierror"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Kind    apierror.Kind `json:"kind"`
	Message string        `json:"message"`
}

func statusCode(kind apierror.Kind) int {
	switch kind {
	case apierror.KindBadRequest:
		return http.StatusBadRequest
	case apierror.KindConflict:
		return http.StatusConflict
	case apierror.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func kindFromStatus(status int) apierror.Kind {
	switch status {
	case http.StatusBadRequest:
		return apierror.KindBadRequest
	case http.StatusConflict:
		return apierror.KindConflict
	case http.StatusNotFound:
		return apierror.KindNotFound
	default:
		return apierror.KindServer
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierror.KindOf(err)
	tryJSON(w, statusCode(kind), ErrorResponse{Kind: kind, Message: err.Error()})
}

// decodeError turns a failed response back into a tagged error
func decodeError(status int, body []byte) error {
	response := ErrorResponse{}
	if err := json.Unmarshal(body, &response); err != nil || response.Message == "" {
		return apierror.New(kindFromStatus(status), fmt.Sprintf("unexpected status %d: %s", status, string(body)))
	}
	if response.Kind == "" {
		response.Kind = kindFromStatus(status)
	}

	return apierror.New(response.Kind, response.Message)
}

type errDaemonNotAvailable struct {
	Err     error
	Address string
}

func (e errDaemonNotAvailable) Error() string {
	return fmt.Sprintf("The wsmaster daemon at %s isn't reachable. Is `wsmaster serve` running? %v", e.Address, e.Err)
}

func (e errDaemonNotAvailable) Unwrap() error {
	return e.Err
}
