// Package binding parses dynamic-binding expressions, the `{{ }}` delimited
// strings that reference values in the evaluated data tree.
package binding

import "strings"

const (
	openDelim  = "{{"
	closeDelim = "}}"

	// actionConfigPrefix is the namespace binding expressions use to address
	// a form's configuration; the data tree stores the same subtree under
	// "config".
	actionConfigPrefix = "actionConfiguration."
)

// IsBinding reports whether s still contains an unresolved binding
// expression. Values like this must never be forwarded to the backend.
func IsBinding(s string) bool {
	open := strings.Index(s, openDelim)
	if open < 0 {
		return false
	}
	return strings.Contains(s[open+len(openDelim):], closeDelim)
}

// FirstExpression extracts the first embedded expression from s, stripped of
// delimiters and surrounding whitespace. A string may embed several
// expressions; only the first drives parameter substitution.
func FirstExpression(s string) (string, bool) {
	open := strings.Index(s, openDelim)
	if open < 0 {
		return "", false
	}
	rest := s[open+len(openDelim):]
	end := strings.Index(rest, closeDelim)
	if end < 0 {
		return "", false
	}
	expr := strings.TrimSpace(rest[:end])
	if expr == "" {
		return "", false
	}
	return expr, true
}

// ConfigPath translates an expression addressing the form's authored
// configuration into the equivalent dotted path within the stored
// configuration shape: "actionConfiguration.formData.x.data" becomes
// "formData.x.data". Expressions outside the configuration namespace have no
// stored equivalent and report false.
func ConfigPath(expr string) (string, bool) {
	if !strings.HasPrefix(expr, actionConfigPrefix) {
		return "", false
	}
	path := strings.TrimPrefix(expr, actionConfigPrefix)
	if path == "" {
		return "", false
	}
	return path, true
}
