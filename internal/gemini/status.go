// Package gemini holds the wire-level vocabulary of the Gemini protocol
// shared by the request pipeline: the URI scheme and response status codes.
package gemini

import "strconv"

// Scheme is the only URI scheme the server accepts.
const Scheme = "gemini"

// Status is a two-digit Gemini response status code.
type Status int

// Response status codes used by the server.
const (
	StatusSuccess                   Status = 20
	StatusRedirectTemporary         Status = 30
	StatusTemporaryFailure          Status = 40
	StatusCGIError                  Status = 42
	StatusPermanentFailure          Status = 50
	StatusNotFound                  Status = 51
	StatusProxyRequestRefused       Status = 53
	StatusBadRequest                Status = 59
	StatusClientCertificateRequired Status = 60
	StatusCertificateNotValid       Status = 62
)

// Class returns the first digit of the status, e.g. 2 for 20.
func (s Status) Class() int {
	return int(s) / 10
}

// IsSuccess reports whether the status permits a response body.
func (s Status) IsSuccess() bool {
	return s.Class() == 2
}

func (s Status) String() string {
	return strconv.Itoa(int(s))
}
