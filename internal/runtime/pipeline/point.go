package pipeline

import (
	"time"

	"github.com/drblury/fluxbridge/sink"
)

// BuildPoint turns a transformed value into a point named after the rule.
// Every point of one payload shares ts.
func BuildPoint(rule *Rule, value float64, ts time.Time) sink.Point {
	return sink.NewPoint(rule.Name, value, rule.Tags, ts)
}
