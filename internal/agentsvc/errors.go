package agentsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrReadResponse    = errors.New("read response")
	ErrEncodeRequest   = errors.New("encode request")
	ErrDecodeResponse  = errors.New("decode response")
	ErrRunIDRequired   = errors.New("run id and thread id are required")
	ErrAgentIDRequired = errors.New("agent id is required")
)

// RequestError is a non-2xx response from the REST API.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}

	statusText := http.StatusText(e.StatusCode)
	if statusText == "" {
		statusText = "unknown status"
	}

	if e.Code != "" {
		return fmt.Sprintf("request failed: status=%d (%s) code=%s message=%s", e.StatusCode, statusText, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed: status=%d (%s) message=%s", e.StatusCode, statusText, e.Message)
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapRequestError(statusCode int, body []byte) error {
	trimmedBody := strings.TrimSpace(string(body))
	if trimmedBody == "" {
		trimmedBody = http.StatusText(statusCode)
	}

	var parsed errorResponse
	if decodeAPIError(body, &parsed) {
		return &RequestError{
			StatusCode: statusCode,
			Code:       parsed.Error.Code,
			Message:    parsed.Error.Message,
			Body:       append([]byte(nil), body...),
		}
	}

	return &RequestError{
		StatusCode: statusCode,
		Message:    trimmedBody,
		Body:       append([]byte(nil), body...),
	}
}

func decodeAPIError(body []byte, out *errorResponse) bool {
	if len(body) == 0 || out == nil {
		return false
	}
	*out = errorResponse{}
	if err := json.Unmarshal(body, out); err != nil {
		return false
	}
	return strings.TrimSpace(out.Error.Code) != ""
}

// IsTransient reports whether err is a connectivity or throttling blip that is
// worth retrying on the caller's schedule.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == http.StatusRequestTimeout ||
			reqErr.StatusCode == http.StatusTooManyRequests ||
			reqErr.StatusCode >= http.StatusInternalServerError
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
			return true
		case codes.OK:
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// grpcStatusError translates a service error into a gRPC status for the gateway.
func grpcStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		code := codes.Unknown
		switch {
		case reqErr.StatusCode == http.StatusBadRequest:
			code = codes.InvalidArgument
		case reqErr.StatusCode == http.StatusUnauthorized:
			code = codes.Unauthenticated
		case reqErr.StatusCode == http.StatusForbidden:
			code = codes.PermissionDenied
		case reqErr.StatusCode == http.StatusNotFound:
			code = codes.NotFound
		case reqErr.StatusCode == http.StatusRequestTimeout:
			code = codes.DeadlineExceeded
		case reqErr.StatusCode == http.StatusTooManyRequests:
			code = codes.ResourceExhausted
		case reqErr.StatusCode >= http.StatusInternalServerError:
			code = codes.Unavailable
		}
		return status.Error(code, reqErr.Error())
	}

	switch {
	case errors.Is(err, ErrRunIDRequired), errors.Is(err, ErrAgentIDRequired):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case IsTransient(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
