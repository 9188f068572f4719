package xmlagg

import (
	"encoding/xml"
	"io"
	"strings"
)

// Metadata is the structural metadata extracted by a full parse
type Metadata struct {
	// Size is the document length in bytes
	Size int `json:"size"`

	// RootElement is the local name of the root element
	RootElement string `json:"root_element"`

	// DeclaredVersion is the version from the XML declaration, if any
	DeclaredVersion string `json:"declared_version,omitempty"`

	// DeclaredEncoding is the encoding from the XML declaration, if any
	DeclaredEncoding string `json:"declared_encoding,omitempty"`

	// Namespaces lists the namespace URIs declared on any element
	Namespaces []string `json:"namespaces,omitempty"`

	// ElementCount is the number of element start tags (self-closing
	// elements included)
	ElementCount int `json:"element_count"`
}

// ExtractMetadata fully parses the document and extracts structural
// metadata. Callers should screen with QuickCheck first; a parse failure
// here is reported as malformedXml.
func ExtractMetadata(raw string) (*Metadata, error) {
	meta := &Metadata{Size: len(raw)}

	if version, encoding, ok := parseDeclaration(raw); ok {
		meta.DeclaredVersion = version
		meta.DeclaredEncoding = encoding
	}

	seenNS := make(map[string]struct{})
	decoder := xml.NewDecoder(strings.NewReader(raw))
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newValidationError(ReasonMalformed, "parse error: %v", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if meta.ElementCount == 0 {
			meta.RootElement = start.Name.Local
		}
		meta.ElementCount++

		if start.Name.Space != "" {
			if _, seen := seenNS[start.Name.Space]; !seen {
				seenNS[start.Name.Space] = struct{}{}
				meta.Namespaces = append(meta.Namespaces, start.Name.Space)
			}
		}
		for _, attr := range start.Attr {
			if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
				if _, seen := seenNS[attr.Value]; !seen {
					seenNS[attr.Value] = struct{}{}
					meta.Namespaces = append(meta.Namespaces, attr.Value)
				}
			}
		}
	}

	if meta.ElementCount == 0 {
		return nil, newValidationError(ReasonMissingRoot, "document contains no elements")
	}
	return meta, nil
}

// parseDeclaration pulls version and encoding out of a leading
// <?xml ... ?> declaration, if present.
func parseDeclaration(raw string) (version, encoding string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "<?xml") {
		return "", "", false
	}
	end := strings.Index(trimmed, "?>")
	if end < 0 {
		return "", "", false
	}
	decl := trimmed[:end]
	return declAttr(decl, "version"), declAttr(decl, "encoding"), true
}

func declAttr(decl, name string) string {
	idx := strings.Index(decl, name+"=")
	if idx < 0 {
		return ""
	}
	rest := decl[idx+len(name)+1:]
	if len(rest) < 2 {
		return ""
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return ""
	}
	rest = rest[1:]
	end := strings.IndexByte(rest, quote)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// StripDeclaration removes a leading <?xml ... ?> declaration so the
// document can be nested inside another one.
func StripDeclaration(raw string) string {
	trimmed := strings.TrimLeft(raw, " \t\r\n")
	if !strings.HasPrefix(trimmed, "<?xml") {
		return raw
	}
	end := strings.Index(trimmed, "?>")
	if end < 0 {
		return raw
	}
	return strings.TrimLeft(trimmed[end+2:], " \t\r\n")
}
