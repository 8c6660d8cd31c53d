package compiler

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone suffixes must resolve the same on every host

	"github.com/roach88/botloom/internal/ir"
)

// Tag text prefixes.
const (
	PrefixLiteral  = "🧬"
	PrefixString   = "📝"
	PrefixNumber   = "🔢"
	PrefixDate     = "📅"
	PrefixVector   = "➡️"
	PrefixRotation = "🔁"
	PrefixBotLink  = "🔗"
	PrefixListener = "@"
	PrefixModule   = "📄"
)

// prefixVectorBare is the arrow without the emoji variation selector.
const prefixVectorBare = "➡"

// numberPattern matches text that is entirely a whole number or decimal.
// Integer parts with leading zeros ("007") stay strings.
var numberPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?$|^-?\.[0-9]+$`)

// Compile parses raw tag text into a typed value using the first matching
// prefix. It is pure: equal text always yields an equal value.
func Compile(text string) ir.Value {
	switch {
	case text == "":
		return ir.Null{}
	case strings.HasPrefix(text, PrefixLiteral):
		return compileLiteral(strings.TrimPrefix(text, PrefixLiteral))
	case strings.HasPrefix(text, PrefixString):
		return ir.String(strings.TrimPrefix(text, PrefixString))
	case strings.HasPrefix(text, PrefixNumber):
		return compileNumber(strings.TrimPrefix(text, PrefixNumber))
	case strings.HasPrefix(text, PrefixDate):
		if dt, ok := parseDateTime(strings.TrimPrefix(text, PrefixDate)); ok {
			return dt
		}
		return ir.String(text)
	case strings.HasPrefix(text, prefixVectorBare):
		body := strings.TrimPrefix(strings.TrimPrefix(text, PrefixVector), prefixVectorBare)
		if v, ok := parseVector(body); ok {
			return v
		}
		return ir.String(text)
	case strings.HasPrefix(text, PrefixRotation):
		if r, ok := parseRotation(strings.TrimPrefix(text, PrefixRotation)); ok {
			return r
		}
		return ir.String(text)
	case strings.HasPrefix(text, PrefixBotLink):
		return ir.BotLink(text)
	}
	return compileDefault(text)
}

func compileDefault(text string) ir.Value {
	switch strings.ToLower(text) {
	case "true":
		return ir.Bool(true)
	case "false":
		return ir.Bool(false)
	case "infinity":
		return ir.Number(math.Inf(1))
	case "-infinity":
		return ir.Number(math.Inf(-1))
	}
	if numberPattern.MatchString(text) {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return ir.Number(f)
		}
	}
	return ir.String(text)
}

func compileNumber(body string) ir.Value {
	body = strings.TrimSpace(body)
	switch strings.ToLower(body) {
	case "infinity", "+infinity":
		return ir.Number(math.Inf(1))
	case "-infinity":
		return ir.Number(math.Inf(-1))
	}
	f, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return ir.Number(math.NaN())
	}
	return ir.Number(f)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseDateTime parses "<timestamp>[ <IANA zone>]". A timestamp without an
// offset is read in the named zone, or UTC when none is given.
func parseDateTime(body string) (ir.DateTime, bool) {
	body = strings.TrimSpace(body)
	stamp, zone := body, ""
	var loc *time.Location
	if i := strings.LastIndexByte(body, ' '); i > 0 {
		l, err := time.LoadLocation(body[i+1:])
		if err != nil {
			return ir.DateTime{}, false
		}
		stamp, zone, loc = strings.TrimSpace(body[:i]), body[i+1:], l
	}

	for _, layout := range dateLayouts {
		var (
			t   time.Time
			err error
		)
		if layout != time.RFC3339Nano && loc != nil {
			t, err = time.ParseInLocation(layout, stamp, loc)
		} else {
			t, err = time.Parse(layout, stamp)
		}
		if err != nil {
			continue
		}
		if loc != nil {
			t = t.In(loc)
		}
		return ir.DateTime{Time: t, Zone: zone}, true
	}
	return ir.DateTime{}, false
}

func parseFloats(body string, n int) ([]float64, bool) {
	parts := strings.Split(body, ",")
	if len(parts) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func parseVector(body string) (ir.Value, bool) {
	if f, ok := parseFloats(body, 2); ok {
		return ir.Vector2{X: f[0], Y: f[1]}, true
	}
	if f, ok := parseFloats(body, 3); ok {
		return ir.Vector3{X: f[0], Y: f[1], Z: f[2]}, true
	}
	return nil, false
}

func parseRotation(body string) (ir.Rotation, bool) {
	f, ok := parseFloats(body, 4)
	if !ok {
		return ir.Rotation{}, false
	}
	return ir.Rotation{X: f[0], Y: f[1], Z: f[2], W: f[3]}, true
}

// Format renders a value as tag text such that Compile(Format(v)) is equal
// to v. Strings that would otherwise compile to something else get the
// plain-string prefix.
func Format(v ir.Value) string {
	switch val := v.(type) {
	case nil, ir.Null:
		return ""
	case ir.String:
		s := string(val)
		if ir.Equal(Compile(s), val) {
			return s
		}
		return PrefixString + s
	case ir.Number:
		return formatNumber(float64(val))
	case ir.Bool:
		return strconv.FormatBool(bool(val))
	case ir.BotLink:
		return string(val)
	case ir.Vector2:
		return PrefixVector + joinFloats(val.X, val.Y)
	case ir.Vector3:
		return PrefixVector + joinFloats(val.X, val.Y, val.Z)
	case ir.Rotation:
		return PrefixRotation + joinFloats(val.X, val.Y, val.Z, val.W)
	case ir.DateTime:
		s := PrefixDate + val.Time.Format(time.RFC3339Nano)
		if val.Zone != "" {
			s += " " + val.Zone
		}
		return s
	case ir.Array, ir.Object:
		data, err := ir.MarshalCanonical(val)
		if err != nil {
			return ""
		}
		return PrefixLiteral + string(data)
	}
	return ""
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return PrefixNumber + "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinFloats(fs ...float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// FormatAny formats a plain Go value produced by a script.
func FormatAny(v any) string {
	return Format(ir.FromGo(v))
}
