package xmlagg

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// RootElementName is the wrapper element of the combined document
const RootElementName = "aggregate"

// AggregationError describes a failed aggregation
type AggregationError struct {
	// NoValidSources is true when the input list was empty
	NoValidSources bool
	Message        string
}

// Error implements the error interface
func (e *AggregationError) Error() string {
	return e.Message
}

// SourceDocument is one validated source ready for aggregation
type SourceDocument struct {
	// ID is the source descriptor id
	ID string

	// Name is the source display name
	Name string

	// URL is the source endpoint
	URL string

	// FetchedAt is when the document was retrieved
	FetchedAt time.Time

	// ContentType is the Content-Type reported by the remote
	ContentType string

	// Content is the original XML text, declaration included
	Content string
}

// Node is one element of the structured aggregate tree
type Node struct {
	// Name is the element's local name
	Name string `json:"name"`

	// Attributes are the element's attributes
	Attributes map[string]string `json:"attributes,omitempty"`

	// Text is the element's character data, whitespace-trimmed
	Text string `json:"text,omitempty"`

	// Children are the element's child elements in document order
	Children []*Node `json:"children,omitempty"`
}

// Combined is the aggregation output: the combined XML text and the
// equivalent structured tree, so callers needing programmatic access do
// not re-parse the generated document.
type Combined struct {
	// XML is the combined document text
	XML string

	// Tree is the structured equivalent of XML
	Tree *Node

	// GeneratedAt is the generation timestamp carried in the wrapper
	GeneratedAt time.Time

	// SourceCount is the number of sources wrapped
	SourceCount int
}

// Aggregate merges validated sources into one combined document. Each
// source's original content is nested verbatim (its own XML declaration
// stripped) under a per-source wrapper element, in input order. Element
// trees are never merged, so arbitrarily-shaped source schemas survive
// losslessly and naming collisions cannot arise.
//
// Aggregate fails only when the input list is empty.
func Aggregate(sources []SourceDocument, now time.Time) (*Combined, error) {
	if len(sources) == 0 {
		return nil, &AggregationError{
			NoValidSources: true,
			Message:        "no valid sources to aggregate",
		}
	}

	generatedAt := now.UTC()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<%s generatedAt="%s" sourceCount="%d">`+"\n",
		RootElementName, EscapeAttr(generatedAt.Format(time.RFC3339)), len(sources))

	root := &Node{
		Name: RootElementName,
		Attributes: map[string]string{
			"generatedAt": generatedAt.Format(time.RFC3339),
			"sourceCount": strconv.Itoa(len(sources)),
		},
	}

	for i, src := range sources {
		attrs := [][2]string{
			{"id", src.ID},
			{"name", src.Name},
			{"url", src.URL},
			{"fetchedAt", src.FetchedAt.UTC().Format(time.RFC3339)},
			{"contentType", src.ContentType},
			{"index", strconv.Itoa(i)},
		}

		b.WriteString("  <source")
		for _, attr := range attrs {
			fmt.Fprintf(&b, ` %s="%s"`, attr[0], EscapeAttr(attr[1]))
		}
		b.WriteString(">\n")
		b.WriteString(StripDeclaration(src.Content))
		b.WriteString("\n  </source>\n")

		sourceNode := &Node{
			Name:       "source",
			Attributes: make(map[string]string, len(attrs)),
		}
		for _, attr := range attrs {
			sourceNode.Attributes[attr[0]] = attr[1]
		}
		if content, err := ParseTree(src.Content); err == nil {
			sourceNode.Children = append(sourceNode.Children, content)
		} else {
			// Validation upstream should make this unreachable; keep the
			// raw text rather than dropping the source from the tree.
			sourceNode.Text = src.Content
		}
		root.Children = append(root.Children, sourceNode)
	}

	fmt.Fprintf(&b, "</%s>\n", RootElementName)

	return &Combined{
		XML:         b.String(),
		Tree:        root,
		GeneratedAt: generatedAt,
		SourceCount: len(sources),
	}, nil
}

// EscapeAttr escapes the XML-reserved characters in an attribute value.
// Metadata values are untrusted strings from remote input and configuration.
func EscapeAttr(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseTree parses an XML document into a Node tree
func ParseTree(raw string) (*Node, error) {
	decoder := xml.NewDecoder(strings.NewReader(raw))

	var root *Node
	var stack []*Node

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newValidationError(ReasonMalformed, "parse error: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attributes = make(map[string]string, len(t.Attr))
				for _, attr := range t.Attr {
					node.Attributes[attr.Name.Local] = attr.Value
				}
			}
			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				text := strings.TrimSpace(string(t))
				if text != "" {
					stack[len(stack)-1].Text += text
				}
			}
		}
	}

	if root == nil {
		return nil, newValidationError(ReasonMissingRoot, "document contains no elements")
	}
	return root, nil
}
