package parser

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	cachekey "github.com/always-cache/always-proxy/pkg/cache-key"
	"golang.org/x/xerrors"
)

// MaxBodySize is the largest Content-Length accepted from a client.
const MaxBodySize = 16 << 20

var (
	// ErrMalformed is wrapped by every error caused by the request bytes
	// themselves, as opposed to a failure reading them.
	ErrMalformed = xerrors.New("malformed request")

	ErrEmptyRequest          = xerrors.New("empty request")
	ErrMalformedRequestLine  = xerrors.New("malformed request line")
	ErrInvalidContentLength  = xerrors.New("invalid content length")
	ErrContentLengthTooLarge = xerrors.New("content length too large")
)

// allowedPrefixes are the line prefixes kept in the forwarded request.
// Everything else is dropped.
var allowedPrefixes = []string{"GET", "POST", "PUT", "DELETE", "Host", "Content-Type", "Content-Length"}

const contentLengthPrefix = "Content-Length:"

// Request is a client request reduced to the lines that may be forwarded.
type Request struct {
	Method string
	// Target is the raw request target from the request line.
	Target      string
	RequestLine string
	// Headers are the retained header lines in order,
	// including the synthetic Connection: close after Host.
	Headers []string
	Body    []byte
	// Raw is the reconstructed request, ready to be written to the origin.
	Raw []byte
}

// ReadRequest reads one request from r.
// The request line is always kept so that unsupported methods can be
// rejected by the caller; header lines are filtered by prefix.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	requestLine, err := readLine(r)
	if err == io.EOF {
		return nil, ErrEmptyRequest
	}
	if err != nil {
		return nil, xerrors.Errorf("read request line: %w", err)
	}
	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		return nil, malformed(xerrors.Errorf("%q: %w", requestLine, ErrMalformedRequestLine))
	}

	req := &Request{
		Method:      fields[0],
		Target:      fields[1],
		RequestLine: requestLine,
	}
	contentLength := 0
	for {
		line, err := readLine(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("read header: %w", err)
		}
		if line == "" {
			break
		}
		if !isAllowed(line) {
			continue
		}
		req.Headers = append(req.Headers, line)
		if strings.HasPrefix(line, "Host") {
			req.Headers = append(req.Headers, "Connection: close")
		}
		if strings.HasPrefix(line, contentLengthPrefix) {
			if contentLength, err = parseContentLength(line); err != nil {
				return nil, malformed(err)
			}
		}
	}

	if contentLength > 0 {
		req.Body = make([]byte, contentLength)
		if _, err := io.ReadFull(r, req.Body); err != nil {
			return nil, xerrors.Errorf("read body: %w", err)
		}
	}
	req.Raw = req.serialize()
	return req, nil
}

// ParseTarget parses the request target as an absolute URI.
func (req *Request) ParseTarget() (cachekey.Target, error) {
	target, err := cachekey.ParseTarget(req.Target)
	if err != nil {
		return target, malformed(err)
	}
	return target, nil
}

func (req *Request) serialize() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(req.RequestLine)
	buf.WriteString("\r\n")
	for _, h := range req.Headers {
		buf.WriteString(h)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(req.Body)
	return buf.Bytes()
}

func isAllowed(line string) bool {
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func parseContentLength(line string) (int, error) {
	value := strings.TrimSpace(strings.TrimPrefix(line, contentLengthPrefix))
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, xerrors.Errorf("%q: %w", value, ErrInvalidContentLength)
	}
	if n > MaxBodySize {
		return 0, xerrors.Errorf("%d bytes: %w", n, ErrContentLengthTooLarge)
	}
	return n, nil
}

// readLine reads a line without its terminator.
// A final line without a newline is returned as is; io.EOF is only
// returned when nothing was read.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type malformedError struct {
	err error
}

func (e *malformedError) Error() string { return e.err.Error() }

func (e *malformedError) Unwrap() error { return e.err }

func (e *malformedError) Is(target error) bool { return target == ErrMalformed }

func malformed(err error) error {
	return &malformedError{err: err}
}
