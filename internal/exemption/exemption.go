// Package exemption holds the fixed set of caller identities that the pause
// gate always lets through.
package exemption

import (
	"path/filepath"
	"slices"
	"strings"

	"tokenwatch/internal/config"
)

// Built-in exempt callers.
const (
	CallerWorker   = "monitoring"
	CallerNotifier = "telegram_manager"
	CallerWallet   = "wallet_manager"
)

// Policy is an immutable exemption set. The zero value exempts nobody.
type Policy struct {
	members map[string]struct{}
}

// Builtin lists the compiled-in exempt callers.
func Builtin() []string {
	return []string{CallerWorker, CallerNotifier, CallerWallet}
}

// Default returns the built-in exemptions: the worker, the notification
// sender, and the wallet operator.
func Default() Policy {
	return New(Builtin()...)
}

// New builds a policy from caller identities. Identities are normalized, so
// "Monitoring.py" and "monitoring" are the same member.
func New(callers ...string) Policy {
	members := make(map[string]struct{}, len(callers))
	for _, caller := range callers {
		if id := Normalize(caller); id != "" {
			members[id] = struct{}{}
		}
	}
	return Policy{members: members}
}

// FromConfig returns the built-in exemptions extended by gate.exempt_callers.
// Configuration can add members but never remove the built-in ones.
func FromConfig(cfg *config.Config) Policy {
	return Default().With(cfg.Gate.ExemptCallers...)
}

// With returns a copy of p that also exempts callers.
func (p Policy) With(callers ...string) Policy {
	return New(append(p.Members(), callers...)...)
}

// IsExempt reports whether caller bypasses the gate.
func (p Policy) IsExempt(caller string) bool {
	_, ok := p.members[Normalize(caller)]
	return ok
}

// Members returns the sorted member identities.
func (p Policy) Members() []string {
	out := make([]string, 0, len(p.members))
	for id := range p.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Normalize reduces a caller identity, or a script path used as one, to its
// comparable form: lowercase base name without extension.
func Normalize(caller string) string {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return ""
	}
	base := filepath.Base(filepath.ToSlash(caller))
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "\\"); i >= 0 {
		base = base[i+1:]
	}
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return strings.ToLower(base)
}
