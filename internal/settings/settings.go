// Package settings holds the immutable policy snapshot the hub filters
// events with. A snapshot is rebuilt in full on every reload.
package settings

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirestatus/internal/config"
)

// Policy decides whether events for a window reach clients.
type Policy int

const (
	Ignore Policy = iota
	Notify
)

func (p Policy) String() string {
	if p == Notify {
		return "notify"
	}
	return "ignore"
}

// ParsePolicy parses "notify" or "ignore" (case-insensitive).
func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "notify":
		return Notify, true
	case "ignore":
		return Ignore, true
	default:
		return Ignore, false
	}
}

// Snapshot is a read-only view of the filtering policy.
type Snapshot struct {
	DefaultChannels Policy
	DefaultQueries  Policy
	Socket          string

	notify map[string]struct{}
	ignore map[string]struct{}
}

// New builds a snapshot from explicit values. Override names are case-folded.
func New(channels, queries Policy, notify, ignore []string, socket string) *Snapshot {
	return &Snapshot{
		DefaultChannels: channels,
		DefaultQueries:  queries,
		Socket:          socket,
		notify:          nameSet(notify),
		ignore:          nameSet(ignore),
	}
}

// FromConfig builds a snapshot from source configuration. An invalid default
// policy logs a warning and falls back to ignore.
func FromConfig(cfg config.Config, logger *zerolog.Logger) *Snapshot {
	return New(
		policyOrIgnore(logger, "default_channels", cfg.DefaultChannels),
		policyOrIgnore(logger, "default_queries", cfg.DefaultQueries),
		strings.Fields(cfg.OverrideNotify),
		strings.Fields(cfg.OverrideIgnore),
		cfg.SocketPath(),
	)
}

// NotifyOverride reports whether name is forced to notify.
func (s *Snapshot) NotifyOverride(name string) bool {
	_, ok := s.notify[strings.ToLower(name)]
	return ok
}

// IgnoreOverride reports whether name is forced to ignore.
func (s *Snapshot) IgnoreOverride(name string) bool {
	_, ok := s.ignore[strings.ToLower(name)]
	return ok
}

// NotifyNames returns the notify overrides, sorted.
func (s *Snapshot) NotifyNames() []string { return sortedNames(s.notify) }

// IgnoreNames returns the ignore overrides, sorted.
func (s *Snapshot) IgnoreNames() []string { return sortedNames(s.ignore) }

func policyOrIgnore(logger *zerolog.Logger, key, value string) Policy {
	p, ok := ParsePolicy(value)
	if !ok && logger != nil {
		logger.Warn().Str("key", key).Str("value", value).Msg("invalid policy, using ignore")
	}
	return p
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
