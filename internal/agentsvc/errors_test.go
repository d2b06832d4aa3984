package agentsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMapRequestError(t *testing.T) {
	err := mapRequestError(http.StatusBadRequest, []byte(`{"error":{"code":"invalid_request","message":"bad model"}}`))
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if reqErr.Code != "invalid_request" || reqErr.Message != "bad model" {
		t.Fatalf("unexpected error fields: %+v", reqErr)
	}

	err = mapRequestError(http.StatusBadGateway, nil)
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if reqErr.Message != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("expected status text fallback, got %q", reqErr.Message)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: fmt.Errorf("poll: %w", context.DeadlineExceeded), want: true},
		{name: "eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "truncated body", err: fmt.Errorf("get run: %w", fmt.Errorf("%w: %w", ErrReadResponse, io.ErrUnexpectedEOF)), want: true},
		{name: "bad json", err: fmt.Errorf("%w: %w", ErrDecodeResponse, errors.New("invalid character")), want: false},
		{name: "429", err: &RequestError{StatusCode: http.StatusTooManyRequests}, want: true},
		{name: "503", err: &RequestError{StatusCode: http.StatusServiceUnavailable}, want: true},
		{name: "404", err: &RequestError{StatusCode: http.StatusNotFound}, want: false},
		{name: "grpc unavailable", err: status.Error(codes.Unavailable, "x"), want: true},
		{name: "grpc not found", err: status.Error(codes.NotFound, "x"), want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGrpcStatusError(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{err: &RequestError{StatusCode: http.StatusNotFound}, want: codes.NotFound},
		{err: &RequestError{StatusCode: http.StatusTooManyRequests}, want: codes.ResourceExhausted},
		{err: ErrRunIDRequired, want: codes.InvalidArgument},
		{err: context.Canceled, want: codes.Canceled},
		{err: errors.New("boom"), want: codes.Internal},
	}
	for _, tc := range cases {
		if got := status.Code(grpcStatusError(tc.err)); got != tc.want {
			t.Errorf("grpcStatusError(%v) code = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestRunErrorString(t *testing.T) {
	if got := (&RunError{Code: "c", Message: "m"}).String(); got != "c: m" {
		t.Fatalf("unexpected string %q", got)
	}
	var nilErr *RunError
	if nilErr.String() != "" {
		t.Fatal("expected empty string for nil RunError")
	}
}
