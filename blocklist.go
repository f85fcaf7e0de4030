package alwaysproxy

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Blocklist is an immutable set of hostnames the proxy refuses to serve.
// The zero value and nil block nothing.
type Blocklist struct {
	hosts map[string]struct{}
}

func NewBlocklist(hosts ...string) *Blocklist {
	b := &Blocklist{hosts: make(map[string]struct{}, len(hosts))}
	for _, host := range hosts {
		if host = strings.TrimSpace(host); host != "" {
			b.hosts[host] = struct{}{}
		}
	}
	return b
}

// ReadBlocklist reads one hostname per line.
// Blank lines and lines starting with # are ignored.
func ReadBlocklist(r io.Reader) (*Blocklist, error) {
	hosts := make([]string, 0)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewBlocklist(hosts...), nil
}

// LoadBlocklist reads the blocklist file.
// A file that cannot be read is logged and results in an empty blocklist,
// so the proxy keeps running unblocked.
func LoadBlocklist(filename string, logger zerolog.Logger) *Blocklist {
	b, err := loadBlocklist(filename)
	if err != nil {
		logger.Error().Err(err).Str("file", filename).Msg("Failed to load blocked sites, blocking nothing")
		return NewBlocklist()
	}
	logger.Info().Str("file", filename).Int("hosts", b.Len()).Msg("Loaded blocked sites")
	return b
}

func loadBlocklist(filename string) (*Blocklist, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := ReadBlocklist(f)
	if err != nil {
		return nil, xerrors.Errorf("read %s: %w", filename, err)
	}
	return b, nil
}

// Contains reports whether host is blocked. Matching is exact.
func (b *Blocklist) Contains(host string) bool {
	if b == nil {
		return false
	}
	_, ok := b.hosts[host]
	return ok
}

func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.hosts)
}

// Hosts returns the blocked hostnames in sorted order.
func (b *Blocklist) Hosts() []string {
	hosts := make([]string, 0, b.Len())
	if b == nil {
		return hosts
	}
	for host := range b.hosts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
