// Package xmlagg validates raw XML documents and merges validated sources
// into one structure-preserving combined document.
package xmlagg

import (
	"fmt"
	"strings"
)

// ValidationReason classifies why a document failed validation
type ValidationReason string

const (
	// ReasonEmptyBody means the document is empty or whitespace
	ReasonEmptyBody ValidationReason = "emptyBody"

	// ReasonMalformed means the document does not look like XML or the
	// full parse rejected it
	ReasonMalformed ValidationReason = "malformedXml"

	// ReasonUnbalancedTags means angle brackets do not balance
	ReasonUnbalancedTags ValidationReason = "unbalancedTags"

	// ReasonMissingRoot means no root element with a matching close tag
	// was found
	ReasonMissingRoot ValidationReason = "missingRoot"
)

// ValidationError describes a document rejected by validation
type ValidationError struct {
	Reason  ValidationReason
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid XML (%s): %s", e.Reason, e.Message)
}

func newValidationError(reason ValidationReason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// QuickCheck is the cheap structural screen applied before the full parser:
// non-empty, starts with a declaration or an opening tag, balanced angle
// brackets, and a root element that is closed or self-closing. Documents
// failing here are never handed to the full parser.
func QuickCheck(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return newValidationError(ReasonEmptyBody, "document is empty")
	}

	if !strings.HasPrefix(trimmed, "<") {
		return newValidationError(ReasonMalformed, "document does not start with a declaration or tag")
	}

	open := strings.Count(trimmed, "<")
	closed := strings.Count(trimmed, ">")
	if open != closed {
		return newValidationError(ReasonUnbalancedTags, "%d opening vs %d closing angle brackets", open, closed)
	}

	root, rootTag, ok := rootElement(trimmed)
	if !ok {
		return newValidationError(ReasonMissingRoot, "no root element found")
	}
	if strings.HasSuffix(rootTag, "/>") {
		return nil
	}
	if !strings.Contains(trimmed, "</"+root) {
		return newValidationError(ReasonMissingRoot, "root element <%s> has no closing tag", root)
	}
	return nil
}

// rootElement finds the first real element tag, skipping the declaration,
// processing instructions, comments and doctype. Returns the element name,
// the full tag text, and whether one was found.
func rootElement(doc string) (name, tag string, ok bool) {
	rest := doc
	for {
		start := strings.Index(rest, "<")
		if start < 0 {
			return "", "", false
		}
		rest = rest[start:]

		switch {
		case strings.HasPrefix(rest, "<?"):
			end := strings.Index(rest, "?>")
			if end < 0 {
				return "", "", false
			}
			rest = rest[end+2:]
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest, "-->")
			if end < 0 {
				return "", "", false
			}
			rest = rest[end+3:]
		case strings.HasPrefix(rest, "<!"):
			end := strings.Index(rest, ">")
			if end < 0 {
				return "", "", false
			}
			rest = rest[end+1:]
		default:
			end := strings.Index(rest, ">")
			if end < 0 {
				return "", "", false
			}
			tag = rest[:end+1]
			name = strings.TrimLeft(tag, "<")
			name = strings.TrimRight(name, "/>")
			if i := strings.IndexAny(name, " \t\r\n"); i >= 0 {
				name = name[:i]
			}
			if name == "" {
				return "", "", false
			}
			return name, tag, true
		}
	}
}
