// Package transports imports every built-in source for registration.
// Import it for side effects to make all sources available to transport.Build.
package transports

import (
	_ "github.com/drblury/fluxbridge/transport/aws"
	_ "github.com/drblury/fluxbridge/transport/channel"
	_ "github.com/drblury/fluxbridge/transport/http"
	_ "github.com/drblury/fluxbridge/transport/io"
	_ "github.com/drblury/fluxbridge/transport/jetstream"
	_ "github.com/drblury/fluxbridge/transport/kafka"
	_ "github.com/drblury/fluxbridge/transport/mqtt"
	_ "github.com/drblury/fluxbridge/transport/nats"
	_ "github.com/drblury/fluxbridge/transport/rabbitmq"
)
