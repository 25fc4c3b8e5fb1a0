package bias

import (
	"encoding/json"
	"html"
	"sort"
	"strconv"
	"strings"
)

// Highlight carries everything needed to open the suggestions view for a span
// without going back to the analyzer.
type Highlight struct {
	Start           int      `json:"start"`
	End             int      `json:"end"`
	TermID          string   `json:"term_id"`
	Term            string   `json:"term"`
	Category        string   `json:"category"`
	CategoryDisplay string   `json:"category_display"`
	Severity        Severity `json:"severity"`
	Explanation     string   `json:"explanation"`
	Suggestions     []string `json:"suggestions"`
}

// Segment is a run of text, highlighted or plain
type Segment struct {
	Text      string     `json:"text"`
	Highlight *Highlight `json:"highlight,omitempty"`
}

// Theme holds the CSS classes used by the overlay markup
type Theme struct {
	BlockingClass string `yaml:"blocking_class" mapstructure:"blocking_class"`
	WarningClass  string `yaml:"warning_class" mapstructure:"warning_class"`
	GapClass      string `yaml:"gap_class" mapstructure:"gap_class"`
}

// DefaultTheme returns the stock class names
func DefaultTheme() Theme {
	return Theme{
		BlockingClass: "bias-highlight bias-blocking",
		WarningClass:  "bias-highlight bias-warning",
	}
}

// Render splits text into plain and highlighted segments. Spans are sorted by
// start; a span that overlaps the previous one is clipped to begin where the
// previous one ended, and dropped if nothing remains.
func Render(text string, a Analysis) []Segment {
	var highlights []Highlight
	for _, ft := range a.FlaggedTerms {
		for _, p := range ft.Positions {
			if p.Start < 0 || p.End > len(text) || p.Start >= p.End {
				continue
			}
			highlights = append(highlights, Highlight{
				Start:           p.Start,
				End:             p.End,
				TermID:          ft.ID,
				Term:            ft.Term,
				Category:        ft.Category,
				CategoryDisplay: ft.CategoryDisplay,
				Severity:        ft.Severity,
				Explanation:     ft.Explanation,
				Suggestions:     ft.Suggestions,
			})
		}
	}

	sort.SliceStable(highlights, func(i, j int) bool {
		return highlights[i].Start < highlights[j].Start
	})

	segments := make([]Segment, 0, len(highlights)*2+1)
	lastIndex := 0
	for i := range highlights {
		h := highlights[i]
		if h.End <= lastIndex {
			continue
		}
		if h.Start < lastIndex {
			h.Start = lastIndex
		}

		if h.Start > lastIndex {
			segments = append(segments, Segment{Text: text[lastIndex:h.Start]})
		}
		segments = append(segments, Segment{Text: text[h.Start:h.End], Highlight: &h})
		lastIndex = h.End
	}

	if lastIndex < len(text) {
		segments = append(segments, Segment{Text: text[lastIndex:]})
	}

	return segments
}

// Renderer turns segments into overlay markup
type Renderer struct {
	Theme Theme
}

// NewRenderer returns a renderer with the given theme, falling back to the
// default classes for anything left empty.
func NewRenderer(theme Theme) *Renderer {
	def := DefaultTheme()
	if theme.BlockingClass == "" {
		theme.BlockingClass = def.BlockingClass
	}
	if theme.WarningClass == "" {
		theme.WarningClass = def.WarningClass
	}
	return &Renderer{Theme: theme}
}

// HTML renders segments as escaped markup. Highlights become <mark> elements
// whose data attributes feed the suggestions dialog.
func (r *Renderer) HTML(segments []Segment) string {
	var sb strings.Builder

	for _, seg := range segments {
		if seg.Highlight == nil {
			if r.Theme.GapClass != "" {
				sb.WriteString(`<span class="` + html.EscapeString(r.Theme.GapClass) + `">`)
				sb.WriteString(html.EscapeString(seg.Text))
				sb.WriteString(`</span>`)
			} else {
				sb.WriteString(html.EscapeString(seg.Text))
			}
			continue
		}

		h := seg.Highlight
		class := r.Theme.WarningClass
		if h.Severity == SeverityBlocking {
			class = r.Theme.BlockingClass
		}

		suggestions := h.Suggestions
		if suggestions == nil {
			suggestions = []string{}
		}
		encoded, _ := json.Marshal(suggestions)

		sb.WriteString(`<mark class="`)
		sb.WriteString(html.EscapeString(class))
		writeAttr(&sb, "data-term-id", h.TermID)
		writeAttr(&sb, "data-term", h.Term)
		writeAttr(&sb, "data-category", h.CategoryDisplay)
		writeAttr(&sb, "data-explanation", h.Explanation)
		writeAttr(&sb, "data-suggestions", string(encoded))
		writeAttr(&sb, "data-start", strconv.Itoa(h.Start))
		sb.WriteString(`">`)
		sb.WriteString(html.EscapeString(seg.Text))
		sb.WriteString(`</mark>`)
	}

	return sb.String()
}

// Render is a convenience for Render followed by HTML
func (r *Renderer) Render(text string, a Analysis) (string, []Segment) {
	segments := Render(text, a)
	return r.HTML(segments), segments
}

func writeAttr(sb *strings.Builder, name, value string) {
	sb.WriteString(`" `)
	sb.WriteString(name)
	sb.WriteString(`="`)
	sb.WriteString(html.EscapeString(value))
}
