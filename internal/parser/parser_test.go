package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLParser_Parse(t *testing.T) {
	p := NewHTMLParser()

	html := `<html><head><style>p{}</style></head><body>
		<div style="display:none">preheader text</div>
		<p>Hi Sam,</p><p>We would like to   schedule an interview.</p>
		<script>track()</script></body></html>`

	text, err := p.Parse(html)
	require.NoError(t, err)
	assert.Equal(t, "Hi Sam,\nWe would like to schedule an interview.", text)

	empty, err := p.Parse("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHTMLParser_BodyText(t *testing.T) {
	p := NewHTMLParser()
	assert.Equal(t, "plain body", p.BodyText("  plain​ body \n\n\n", ""))
	assert.Equal(t, "from html", p.BodyText("plain", "<p>from html</p>"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "any", Truncate("any", 0))
}

func TestSignalDetector_Detect(t *testing.T) {
	d := NewSignalDetector()

	tests := []struct {
		name   string
		text   string
		want   []string
		vendor string
	}{
		{
			name:   "greenhouse interview",
			text:   "Thank you for applying. We'd like to schedule an interview. Powered by Greenhouse",
			want:   []string{"ats_boilerplate", "interview", "vendor"},
			vendor: "greenhouse",
		},
		{
			name: "rejection",
			text: "Unfortunately, we have decided to move forward with other candidates.",
			want: []string{"rejection"},
		},
		{
			name: "newsletter",
			text: "Top 10 tips this week. Unsubscribe | View in browser",
			want: []string{"unsubscribe"},
		},
		{
			name: "nothing",
			text: "Lunch tomorrow?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := d.Detect(tt.text)
			var types []string
			for _, s := range signals {
				types = append(types, s.Type)
			}
			assert.ElementsMatch(t, tt.want, types)
			assert.Equal(t, tt.vendor, Vendor(signals))
		})
	}
}
