package chartbuilder

import (
	"strings"
	"unicode"

	"promptsmith/pkg/chart"
)

//nolint:gochecknoglobals // static sample data
var (
	sampleMonths  = []string{"Jan", "Feb", "Mar"}
	sampleValues  = []float64{120000, 95000, 110000, 85000, 135000, 105000, 125000, 90000, 150000, 115000, 140000, 100000}
	sampleMembers = map[string][]string{
		"region":     {"North", "South", "East", "West"},
		"department": {"Sales", "Engineering", "Marketing", "Support"},
		"category":   {"Electronics", "Clothing", "Home", "Sports"},
		"product":    {"Product A", "Product B", "Product C", "Product D"},
		"country":    {"US", "UK", "Germany", "Japan"},
		"segment":    {"Enterprise", "SMB", "Consumer", "Public"},
		"channel":    {"Online", "Retail", "Partner", "Direct"},
	}
	leadingVerbs = []string{"show me", "show", "display", "create", "plot", "give me", "visualize", "draw", "chart"}
)

// Template builds a spec from the query's intent and the prompt's explicit requirements.
// Twelve sample rows cover four members of the grouping field over three months.
func Template(query, prompt string) *chart.Spec {
	intent := chart.DetectIntent(query)
	fields := chart.ImpliedFields(query)
	metric := first(fields.Metrics, "revenue")
	dim := first(fields.Dimensions, "region")
	members, ok := sampleMembers[dim]
	if !ok {
		members = sampleMembers["region"]
	}

	rows := make([]map[string]any, 0, len(sampleValues))
	for i, v := range sampleValues {
		rows = append(rows, map[string]any{
			dim:     members[i%len(members)],
			"month": sampleMonths[i/len(members)],
			metric:  v,
		})
	}

	metricTitle := titleCase(metric)
	if metric == "revenue" || metric == "sales" || metric == "profit" || metric == "cost" {
		metricTitle += " ($)"
	}
	dimChannel := &chart.Channel{Field: dim, Type: "nominal", Title: titleCase(dim)}
	metricChannel := &chart.Channel{Field: metric, Type: "quantitative", Title: metricTitle}
	monthChannel := &chart.Channel{Field: "month", Type: "ordinal", Title: "Month", Sort: sampleMonths}

	spec := &chart.Spec{
		Schema:      chart.SchemaV5,
		Description: query,
		Title:       &chart.Title{Text: chartTitle(query), FontSize: 16},
		Data:        &chart.Data{Values: rows},
		Mark:        &chart.Mark{Type: chart.MarkFor(intent)},
		Width:       chart.Pixels(600),
		Height:      chart.Pixels(400),
	}

	switch intent {
	case chart.IntentTime, chart.IntentDistribution:
		spec.Encoding = map[string]*chart.Channel{"x": monthChannel, "y": metricChannel, "color": dimChannel}
	case chart.IntentShare:
		metricChannel.Aggregate = "sum"
		spec.Encoding = map[string]*chart.Channel{"theta": metricChannel, "color": dimChannel}
	default:
		metricChannel.Aggregate = "sum"
		metricChannel.Title = "Total " + metricTitle
		spec.Encoding = map[string]*chart.Channel{"x": dimChannel, "y": metricChannel, "color": cloneChannel(dimChannel)}
	}

	applyRequirements(spec, prompt)
	return spec
}

// applyRequirements honours explicit asks in a rewritten prompt.
func applyRequirements(spec *chart.Spec, prompt string) {
	words := chart.Words(prompt)
	has := func(terms ...string) bool {
		for _, t := range terms {
			if strings.Contains(words, " "+t+" ") {
				return true
			}
		}
		return false
	}

	if has("responsive", "autosize", "container") {
		spec.Width = chart.Container()
		spec.Autosize = map[string]any{"type": "fit", "contains": "padding"}
	}
	if has("tooltip", "tooltips", "interactive", "interactivity", "hover") {
		yes := true
		spec.Mark.Tooltip = &yes
	}
	if has("contrast", "color scheme", "modern color", "meaningful colors") {
		if spec.Config == nil {
			spec.Config = map[string]any{}
		}
		spec.Config["range"] = map[string]any{"category": map[string]any{"scheme": "tableau10"}}
	}
	if has("axis labels", "axis titles") {
		for _, name := range []string{"x", "y"} {
			if c := spec.Channel(name); c != nil && c.Title == "" {
				c.Title = titleCase(c.Field)
			}
		}
	}
}

func cloneChannel(c *chart.Channel) *chart.Channel {
	out := *c
	return &out
}

func first(list []string, fallback string) string {
	if len(list) > 0 {
		return list[0]
	}
	return fallback
}

// chartTitle title-cases the query after dropping a leading verb like "show me".
func chartTitle(query string) string {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)
	for _, verb := range leadingVerbs {
		if strings.HasPrefix(lower, verb+" ") {
			q = strings.TrimSpace(q[len(verb):])
			break
		}
	}
	q = strings.TrimRight(q, "?.! ")
	if q == "" {
		return "Chart"
	}
	return titleCase(q)
}

//nolint:gochecknoglobals // static lookup
var minorWords = map[string]bool{"by": true, "of": true, "and": true, "the": true, "in": true, "per": true, "a": true, "vs": true}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if i > 0 && minorWords[strings.ToLower(w)] {
			words[i] = strings.ToLower(w)
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
