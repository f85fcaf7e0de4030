package alwaysproxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/always-cache/always-proxy/cache"
	cachekey "github.com/always-cache/always-proxy/pkg/cache-key"
	parser "github.com/always-cache/always-proxy/pkg/request-parser"
	responsestatus "github.com/always-cache/always-proxy/pkg/response-status"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

const (
	DefaultOriginTimeout = 10 * time.Second
	DefaultDialTimeout   = 10 * time.Second
)

// DialFunc opens a connection to an origin server.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Config struct {
	// Storage for cached responses, shared by all connections.
	Cache cache.CacheProvider
	// Hosts to refuse. Nil blocks nothing.
	Blocklist *Blocklist
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Registerer for proxy metrics. Metrics are kept unexported if nil.
	Registerer prometheus.Registerer
	// OriginTimeout is how long a read from the origin may block.
	OriginTimeout time.Duration
	// DialTimeout bounds connecting to the origin.
	DialTimeout time.Duration
	// Dial overrides how origin connections are made.
	Dial DialFunc
}

// Proxy serves one request per client connection:
// it filters the request, enforces the blocklist, answers from the cache
// or forwards to the origin and caches the response.
type Proxy struct {
	cache         cache.CacheProvider
	blocklist     *Blocklist
	log           zerolog.Logger
	metrics       *proxyMetrics
	originTimeout time.Duration
	dial          DialFunc
}

// CreateProxy initializes a proxy from config.
func CreateProxy(config Config) (*Proxy, error) {
	if config.Cache == nil {
		return nil, xerrors.New("cache provider is required")
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	registerer := config.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	p := &Proxy{
		cache:         config.Cache,
		blocklist:     config.Blocklist,
		log:           logger,
		metrics:       newProxyMetrics(registerer),
		originTimeout: config.OriginTimeout,
		dial:          config.Dial,
	}
	if p.originTimeout <= 0 {
		p.originTimeout = DefaultOriginTimeout
	}
	if p.dial == nil {
		dialTimeout := config.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = DefaultDialTimeout
		}
		p.dial = (&net.Dialer{Timeout: dialTimeout}).DialContext
	}
	return p, nil
}

// ServeConn handles the single request on conn and closes it.
// It never panics; every failure ends in at most one error response.
func (p *Proxy) ServeConn(ctx context.Context, conn net.Conn) {
	start := time.Now()
	p.metrics.inFlight.Inc()
	defer p.metrics.inFlight.Dec()
	defer conn.Close()

	var req *parser.Request
	var status requestStatus
	// responding is set once the pipeline starts writing to the client
	var responding bool
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("Recovered from panic while serving connection")
			if responding {
				status.Abandon(fmt.Sprint(r))
			} else {
				status.Fail(OutcomeError, http.StatusInternalServerError, fmt.Sprint(r))
				if err := WriteError(conn, http.StatusInternalServerError, "Internal server error"); err != nil {
					status.Abandon(err.Error())
				}
			}
		}
		duration := time.Since(start)
		p.metrics.requestsTotal.WithLabelValues(string(status.outcome)).Inc()
		p.metrics.requestDuration.Observe(duration.Seconds())
		p.logRequest(conn, req, status, duration)
	}()

	var response []byte
	var err error
	req, response, err = p.handle(ctx, conn, &status)
	responding = true
	if err != nil {
		p.sendError(conn, err, &status)
		return
	}
	if _, err := conn.Write(response); err != nil {
		status.Abandon(err.Error())
		p.log.Warn().Err(err).Msg("Could not write response to client")
	}
}

// handle runs the pipeline up to the point where a response is known.
// The returned request is nil if it could not be parsed.
func (p *Proxy) handle(ctx context.Context, conn net.Conn, status *requestStatus) (*parser.Request, []byte, error) {
	req, err := parser.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		if errors.Is(err, parser.ErrMalformed) {
			return nil, nil, err
		}
		return nil, nil, &ClientIOError{Op: "read request", Err: err}
	}
	p.log.Trace().Bytes("request", req.Raw).Msg("Request from client")

	if err := validateMethod(req.Method); err != nil {
		return req, nil, err
	}
	target, err := req.ParseTarget()
	if err != nil {
		return req, nil, err
	}
	if p.blocklist.Contains(target.Host) {
		return req, nil, xerrors.Errorf("%s: %w", target.Host, ErrBlocked)
	}

	key := target.Key()
	if cached, ok, err := p.cache.Get(key); err != nil {
		p.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
	} else if ok {
		status.Hit(statusCode(cached))
		return req, cached, nil
	}

	response, err := p.forward(ctx, target, req.Raw)
	if err != nil {
		return req, nil, err
	}
	if err := p.cache.Put(key, response); err != nil {
		p.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
	}
	status.Miss(statusCode(response))
	return req, response, nil
}

func validateMethod(method string) error {
	switch method {
	case "GET", "POST", "PUT", "DELETE":
		return nil
	case "CONNECT":
		return ErrTunnelingUnsupported
	default:
		return xerrors.Errorf("%q: %w", method, ErrUnsupportedMethod)
	}
}

// forward sends the request to the origin and reads the response until
// the origin closes the connection.
func (p *Proxy) forward(ctx context.Context, target cachekey.Target, raw []byte) ([]byte, error) {
	origin, err := p.dial(ctx, "tcp", target.DialAddress())
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, xerrors.Errorf("%s: %w", target.Host, ErrHostNotFound)
		}
		return nil, &ForwardingError{Op: "connect", Err: err}
	}
	defer origin.Close()

	if err := origin.SetWriteDeadline(time.Now().Add(p.originTimeout)); err != nil {
		return nil, &ForwardingError{Op: "write request", Err: err}
	}
	if _, err := origin.Write(raw); err != nil {
		return nil, &ForwardingError{Op: "write request", Err: err}
	}
	response, err := io.ReadAll(&idleTimeoutReader{conn: origin, timeout: p.originTimeout})
	if err != nil {
		return nil, &ForwardingError{Op: "read response", Err: err}
	}
	if len(response) == 0 {
		return nil, &ForwardingError{Op: "read response", Err: io.ErrUnexpectedEOF}
	}
	return response, nil
}

// sendError answers the client with the response err maps to, if any.
func (p *Proxy) sendError(conn net.Conn, err error, status *requestStatus) {
	code, message, ok := errorResponse(err)
	if !ok {
		status.Abandon(err.Error())
		return
	}
	status.Fail(outcomeForError(err), code, err.Error())
	if err := WriteError(conn, code, message); err != nil {
		status.Abandon(err.Error())
		p.log.Warn().Err(err).Msg("Could not write error response to client")
	}
}

func (p *Proxy) logRequest(conn net.Conn, req *parser.Request, status requestStatus, duration time.Duration) {
	event := p.log.Debug()
	if status.outcome == OutcomeError || status.outcome == OutcomeAbandoned {
		event = p.log.Warn()
	}
	if req != nil {
		event = event.Str("method", req.Method).Str("url", req.Target)
	}
	event.
		Str("sourceIp", getSourceIp(conn)).
		Str("status", string(status.outcome)).
		Int("code", status.code).
		Str("detail", status.detail).
		Dur("duration", duration).
		Msg("Closing client connection")
}

// statusCode returns the status code of a raw response, 0 if unparseable.
func statusCode(response []byte) int {
	code, err := responsestatus.Code(response)
	if err != nil {
		return 0
	}
	return code
}

// getSourceIp returns the client IP without port.
func getSourceIp(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// idleTimeoutReader fails a read that blocks for longer than timeout.
// The deadline is renewed before every read, so a slow but steady origin
// is not cut off.
type idleTimeoutReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleTimeoutReader) Read(b []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(b)
}
