package xmlagg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuickCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantReason ValidationReason
	}{
		{
			name: "simple document",
			raw:  `<root><child/></root>`,
		},
		{
			name: "with declaration",
			raw:  `<?xml version="1.0"?><root/>`,
		},
		{
			name: "self-closing root",
			raw:  `<root/>`,
		},
		{
			name: "leading comment and doctype",
			raw:  "<!-- generated --><!DOCTYPE root><root></root>",
		},
		{
			name: "surrounding whitespace",
			raw:  "  \n\t<root>hi</root>\n",
		},
		{
			name:       "empty",
			raw:        "",
			wantReason: ReasonEmptyBody,
		},
		{
			name:       "whitespace only",
			raw:        "   \n\t  ",
			wantReason: ReasonEmptyBody,
		},
		{
			name:       "not xml",
			raw:        `{"json": true}`,
			wantReason: ReasonMalformed,
		},
		{
			name:       "unbalanced brackets",
			raw:        `<root><child</root>`,
			wantReason: ReasonUnbalancedTags,
		},
		{
			name:       "root never closed",
			raw:        `<root><child></child>`,
			wantReason: ReasonMissingRoot,
		},
		{
			name:       "declaration only",
			raw:        `<?xml version="1.0"?>`,
			wantReason: ReasonMissingRoot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := QuickCheck(tt.raw)
			if tt.wantReason == "" {
				assert.NoError(t, err)
				return
			}

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantReason, vErr.Reason)
		})
	}
}

func TestRootElement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		wantName string
		wantOK   bool
	}{
		{name: "plain", raw: `<root></root>`, wantName: "root", wantOK: true},
		{name: "with attributes", raw: `<feed version="2.0">x</feed>`, wantName: "feed", wantOK: true},
		{name: "after declaration", raw: `<?xml version="1.0"?><doc/>`, wantName: "doc", wantOK: true},
		{name: "after comment", raw: `<!-- hi --><doc/>`, wantName: "doc", wantOK: true},
		{name: "no element", raw: `<?xml version="1.0"?>`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			name, _, ok := rootElement(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantName, name)
			}
		})
	}
}
