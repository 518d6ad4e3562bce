// Package sinks imports all built-in sinks for auto-registration.
package sinks

import (
	_ "github.com/drblury/fluxbridge/sink/file"
	_ "github.com/drblury/fluxbridge/sink/influxv1"
	_ "github.com/drblury/fluxbridge/sink/influxv2"
)
