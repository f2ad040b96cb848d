// Package namespace resolves the effective tenant namespace for a request.
// Resolution is purely functional: the resolver consults its sources in a
// fixed priority order once per request and the winner is threaded through
// the call context.
package namespace

import (
	"regexp"

	"github.com/mcp-jive/jive/internal/errs"
)

// Header is the HTTP header consulted for HTTP and WebSocket requests.
const Header = "X-Namespace"

var pattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Sources carries the candidate namespace values in priority order. The
// first source the caller actually supplied wins, even when its value is
// empty: an explicit empty namespace is an error, not a fallthrough to the
// default.
type Sources struct {
	// Path is the URL path segment (/mcp/{namespace}, /ws/{namespace}).
	// A path segment is present iff non-empty.
	Path string
	// Header is the X-Namespace header value; HeaderSet records whether
	// the header appeared on the request at all.
	Header    string
	HeaderSet bool
	// Meta is params._meta.namespace from the JSON-RPC request.
	Meta    string
	MetaSet bool
	// ToolArg is the per-tool arguments.namespace field.
	ToolArg    string
	ToolArgSet bool
	// Default is the configured fallback ("default" unless overridden).
	Default string
}

// Resolve returns the effective namespace or INVALID_NAMESPACE.
func Resolve(s Sources) (string, error) {
	candidates := []struct {
		value    string
		provided bool
	}{
		{s.Path, s.Path != ""},
		{s.Header, s.HeaderSet || s.Header != ""},
		{s.Meta, s.MetaSet || s.Meta != ""},
		{s.ToolArg, s.ToolArgSet || s.ToolArg != ""},
	}
	for _, c := range candidates {
		if c.provided {
			return validate(c.value)
		}
	}
	fallback := s.Default
	if fallback == "" {
		fallback = "default"
	}
	return validate(fallback)
}

// Valid reports whether a namespace string is well-formed.
func Valid(ns string) bool {
	return pattern.MatchString(ns)
}

func validate(ns string) (string, error) {
	if !Valid(ns) {
		return "", errs.Newf(errs.CodeInvalidNamespace, "invalid namespace %q: must match [a-zA-Z0-9_-]{1,64}", ns)
	}
	return ns, nil
}
