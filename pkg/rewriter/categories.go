package rewriter

import "strings"

// Issue categories.
const (
	CategoryResponsive = "responsive"
	CategoryAxis       = "axis"
	CategoryColor      = "color"
	CategoryData       = "data"
	CategoryType       = "type"
	CategoryTitle      = "title"
	CategoryEncoding   = "encoding"
	CategoryStyling    = "styling"
	CategoryClarity    = "clarity"
	CategoryInsight    = "insight"
	CategoryVisual     = "visual"
)

type category struct {
	name     string
	keywords []string
	clause   string
}

// categories are matched in order; the first keyword hit wins.
//
//nolint:gochecknoglobals // static remediation table
var categories = []category{
	{CategoryResponsive, []string{"responsive", "autosize"}, "Make the chart responsive with container width and autosize"},
	{CategoryAxis, []string{"axis", "axes"}, "Include clear axis labels and titles"},
	{CategoryColor, []string{"color", "colour", "contrast"}, "Use meaningful colors and ensure good contrast"},
	{CategoryData, []string{"data"}, "Specify data handling and transformations"},
	{CategoryType, []string{"type", "mark"}, "Be specific about chart type and mark selection"},
	{CategoryTitle, []string{"title"}, "Add a clear, descriptive chart title"},
	{CategoryEncoding, []string{"encoding", "encoded"}, "Map data fields to both x and y encoding channels"},
	{CategoryStyling, []string{"styling", "size", "dimension", "width", "height"}, "Set explicit width and height for the chart"},
	{CategoryClarity, []string{"clarity", "readab", "label"}, "Ensure the chart is clear and easy to interpret with proper labels and titles"},
	{CategoryInsight, []string{"insight", "pattern"}, "Include enough data points to reveal meaningful patterns"},
	{CategoryVisual, []string{"visual", "aesthetic", "appeal"}, "Use a modern color scheme and tooltips for interactivity"},
}

// Categorize returns the remediation category and clause for an issue, or empty strings when
// no keyword matches.
func Categorize(issue string) (name, clause string) {
	lower := strings.ToLower(issue)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.name, c.clause
			}
		}
	}
	return "", ""
}
