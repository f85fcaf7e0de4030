package responsestatus

import (
	"bufio"
	"bytes"
	"net/http"
)

// Code returns the status code of a raw HTTP/1.x response.
// Only the status line and headers are parsed; the body is left alone.
func Code(b []byte) (int, error) {
	res, err := bytesToResponse(b)
	if err != nil {
		return 0, err
	}
	return res.StatusCode, nil
}

// bytesToResponse converts a byte slice to a http.Response.
func bytesToResponse(b []byte) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
}
