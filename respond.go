package alwaysproxy

import (
	"fmt"
	"io"
)

var reasonPhrases = map[int]string{
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

// ReasonPhrase returns the reason phrase for the status codes the proxy
// produces, or "Unknown".
func ReasonPhrase(code int) string {
	if phrase, ok := reasonPhrases[code]; ok {
		return phrase
	}
	return "Unknown"
}

type flusher interface {
	Flush() error
}

// WriteError writes a minimal plain text HTTP/1.1 response to w.
// Buffered writers are flushed. Write failures are returned, never panicked.
func WriteError(w io.Writer, code int, message string) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\n\r\n%s\r\n",
		code, ReasonPhrase(code), message)
	if err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
