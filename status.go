package alwaysproxy

// Outcome is how a proxied request ended.
type Outcome string

const (
	// The response was served from the cache.
	OutcomeHit Outcome = "hit"

	// The response was fetched from the origin and stored.
	OutcomeMiss Outcome = "miss"

	// The target host is on the blocklist.
	OutcomeBlocked Outcome = "blocked"

	// The request was malformed or used an unsupported method.
	OutcomeRejected Outcome = "rejected"

	// The origin could not be reached or answered badly.
	OutcomeError Outcome = "error"

	// The client connection failed; nothing was sent.
	OutcomeAbandoned Outcome = "abandoned"
)

type requestStatus struct {
	outcome Outcome
	// code is the status code sent to the client, 0 if unknown
	code   int
	detail string
}

func (s *requestStatus) Hit(code int) {
	s.outcome = OutcomeHit
	s.code = code
}

func (s *requestStatus) Miss(code int) {
	s.outcome = OutcomeMiss
	s.code = code
}

func (s *requestStatus) Fail(outcome Outcome, code int, detail string) {
	s.outcome = outcome
	s.code = code
	s.detail = detail
}

func (s *requestStatus) Abandon(detail string) {
	s.outcome = OutcomeAbandoned
	s.code = 0
	s.detail = detail
}
