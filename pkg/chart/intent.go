package chart

import (
	"strings"
	"unicode"
)

// Intent is the analysis a query asks for, used to pick a mark.
type Intent string

const (
	IntentTime         Intent = "time_series"
	IntentComparison   Intent = "comparison"
	IntentDistribution Intent = "distribution"
	IntentShare        Intent = "share"
	IntentGeneral      Intent = "general"
)

//nolint:gochecknoglobals // static keyword tables
var (
	timeTerms         = []string{"time", "trend", "month", "year", "quarter", "week", "daily", "monthly", "annual", "over time"}
	comparisonTerms   = []string{"compare", "comparison", "versus", "vs", "by region", "region", "category", "department", "across"}
	distributionTerms = []string{"distribution", "spread", "correlation", "correlate", "relationship", "scatter"}
	shareTerms        = []string{"share", "proportion", "percentage of", "breakdown", "composition", "pie"}

	metricFields    = []string{"revenue", "sales", "profit", "cost", "orders", "customers", "satisfaction", "growth", "users", "price"}
	dimensionFields = []string{"region", "department", "category", "product", "country", "segment", "channel"}
	timeFields      = []string{"month", "quarter", "year", "week", "day"}
)

// DetectIntent classifies a query. Time wins over comparison so "revenue by region over time"
// is a trend.
func DetectIntent(text string) Intent {
	words := Words(text)
	switch {
	case containsAny(words, timeTerms):
		return IntentTime
	case containsAny(words, distributionTerms):
		return IntentDistribution
	case containsAny(words, shareTerms):
		return IntentShare
	case containsAny(words, comparisonTerms):
		return IntentComparison
	default:
		return IntentGeneral
	}
}

// MarkFor returns the default mark for an intent.
func MarkFor(intent Intent) string {
	switch intent {
	case IntentTime:
		return "line"
	case IntentDistribution:
		return "point"
	case IntentShare:
		return "arc"
	default:
		return "bar"
	}
}

// Fields are the data fields a query implies.
type Fields struct {
	Metrics    []string
	Dimensions []string
	Time       []string
}

// All returns every implied field, metrics first.
func (f Fields) All() []string {
	out := append([]string(nil), f.Metrics...)
	out = append(out, f.Dimensions...)
	return append(out, f.Time...)
}

// ImpliedFields extracts metric, dimension and time fields named in text.
func ImpliedFields(text string) Fields {
	words := Words(text)
	return Fields{
		Metrics:    matching(words, metricFields),
		Dimensions: matching(words, dimensionFields),
		Time:       matching(words, timeFields),
	}
}

// Words lower-cases text and joins its letter and digit runs with single spaces, padded on
// both sides so callers can match whole words with " term ".
func Words(text string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// hasTerm matches term as a whole word or phrase, allowing a trailing plural "s".
func hasTerm(words, term string) bool {
	return strings.Contains(words, " "+term+" ") || strings.Contains(words, " "+term+"s ")
}

func containsAny(words string, terms []string) bool {
	for _, t := range terms {
		if hasTerm(words, t) {
			return true
		}
	}
	return false
}

func matching(words string, terms []string) []string {
	var out []string
	for _, t := range terms {
		if hasTerm(words, t) || (strings.HasSuffix(t, "s") && hasTerm(words, strings.TrimSuffix(t, "s"))) {
			out = append(out, t)
		}
	}
	return out
}

// HasTerm reports whether text mentions any of terms as whole words.
func HasTerm(text string, terms ...string) bool {
	return containsAny(Words(text), terms)
}
