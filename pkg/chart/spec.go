// Package chart defines the Vega-Lite chart document produced by the pipeline, along with
// parsing, structural validation and chart type detection.
package chart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaV5 is the Vega-Lite schema URL stamped on generated specs.
const SchemaV5 = "https://vega.github.io/schema/vega-lite/v5.json"

// Spec is a declarative Vega-Lite chart description.
type Spec struct {
	Schema      string              `json:"$schema,omitempty"`
	Description string              `json:"description,omitempty"`
	Title       *Title              `json:"title,omitempty"`
	Data        *Data               `json:"data,omitempty"`
	Mark        *Mark               `json:"mark,omitempty"`
	Encoding    map[string]*Channel `json:"encoding,omitempty"`
	Width       *Size               `json:"width,omitempty"`
	Height      *Size               `json:"height,omitempty"`
	Autosize    any                 `json:"autosize,omitempty"`
	Config      map[string]any      `json:"config,omitempty"`
	Extra       Extra               `json:"-"`
}

func (s Spec) MarshalJSON() ([]byte, error) {
	type plain Spec
	data, err := encode(plain(s))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, s.Extra)
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	type plain Spec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err //nolint:wrapcheck // Parse wraps
	}
	extra, err := splitExtra(data, specKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*s = Spec(p)
	return nil
}

// Title accepts either a bare string or an object with a text field.
type Title struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize,omitempty"`
	Anchor   string  `json:"anchor,omitempty"`
}

func (t Title) MarshalJSON() ([]byte, error) {
	if t.FontSize == 0 && t.Anchor == "" {
		return json.Marshal(t.Text)
	}
	type plain Title
	return json.Marshal(plain(t))
}

func (t *Title) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Title{Text: s}
		return nil
	}
	type plain Title
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("title: %w", err)
	}
	*t = Title(p)
	return nil
}

// Data is the inline or referenced data block.
type Data struct {
	Values []map[string]any `json:"values,omitempty"`
	URL    string           `json:"url,omitempty"`
	Name   string           `json:"name,omitempty"`
}

// Mark accepts either a mark type string or a mark definition object.
type Mark struct {
	Type    string `json:"type"`
	Tooltip *bool  `json:"tooltip,omitempty"`
	Point   *bool  `json:"point,omitempty"`
	Extra   Extra  `json:"-"`
}

func (m Mark) MarshalJSON() ([]byte, error) {
	if m.Tooltip == nil && m.Point == nil && len(m.Extra) == 0 {
		return json.Marshal(m.Type)
	}
	type plain Mark
	data, err := encode(plain(m))
	if err != nil {
		return nil, fmt.Errorf("mark: %w", err)
	}
	return mergeExtra(data, m.Extra)
}

func (m *Mark) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = Mark{Type: s}
		return nil
	}
	type plain Mark
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	extra, err := splitExtra(data, markKeys)
	if err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	p.Extra = extra
	*m = Mark(p)
	return nil
}

// Channel is one encoding channel (x, y, color, ...).
type Channel struct {
	Field     string         `json:"field,omitempty"`
	Type      string         `json:"type,omitempty"`
	Title     string         `json:"title,omitempty"`
	Aggregate string         `json:"aggregate,omitempty"`
	TimeUnit  string         `json:"timeUnit,omitempty"`
	Axis      *Axis          `json:"axis,omitempty"`
	Scale     map[string]any `json:"scale,omitempty"`
	Legend    any            `json:"legend,omitempty"`
	Sort      any            `json:"sort,omitempty"`
	Extra     Extra          `json:"-"`
}

func (c Channel) MarshalJSON() ([]byte, error) {
	type plain Channel
	data, err := encode(plain(c))
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	return mergeExtra(data, c.Extra)
}

func (c *Channel) UnmarshalJSON(data []byte) error {
	type plain Channel
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	extra, err := splitExtra(data, channelKeys)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	p.Extra = extra
	*c = Channel(p)
	return nil
}

// Axis carries axis presentation properties.
type Axis struct {
	Title      string  `json:"title,omitempty"`
	LabelAngle float64 `json:"labelAngle,omitempty"`
	Grid       *bool   `json:"grid,omitempty"`
}

// Label returns the channel title, falling back to the axis title.
func (c *Channel) Label() string {
	if c == nil {
		return ""
	}
	if c.Title != "" {
		return c.Title
	}
	if c.Axis != nil {
		return c.Axis.Title
	}
	return ""
}

// Size is a numeric pixel size or the string "container".
type Size struct {
	Pixels    float64
	Container bool
}

// Pixels returns a fixed pixel size.
func Pixels(v float64) *Size { return &Size{Pixels: v} }

// Container returns the responsive "container" size.
func Container() *Size { return &Size{Container: true} }

func (s Size) MarshalJSON() ([]byte, error) {
	if s.Container {
		return []byte(`"container"`), nil
	}
	return json.Marshal(s.Pixels)
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = Size{Pixels: f}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("size: %w", err)
	}
	*s = Size{Container: strings.EqualFold(str, "container")}
	return nil
}

// MarkType returns the mark type or "" when the mark is absent.
func (s *Spec) MarkType() string {
	if s == nil || s.Mark == nil {
		return ""
	}
	return s.Mark.Type
}

// TitleText returns the chart title text or "".
func (s *Spec) TitleText() string {
	if s == nil || s.Title == nil {
		return ""
	}
	return s.Title.Text
}

// Channel returns the named encoding channel or nil.
func (s *Spec) Channel(name string) *Channel {
	if s == nil || s.Encoding == nil {
		return nil
	}
	return s.Encoding[name]
}

// Rows returns the inline data rows.
func (s *Spec) Rows() []map[string]any {
	if s == nil || s.Data == nil {
		return nil
	}
	return s.Data.Values
}

// JSON encodes the spec with stable indentation.
func (s *Spec) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode chart spec: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Clone returns a deep copy of the spec.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out Spec
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// Parse decodes a spec from model output, tolerating code fences and surrounding prose.
func Parse(text string) (*Spec, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrInvalidSpec)
	}
	var spec Spec
	if err := json.Unmarshal([]byte(body), &spec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return &spec, nil
}

func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			trimmed = strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return ""
	}
	return trimmed[start : end+1]
}
