// Package transports imports every built-in transport so each registers itself
// with the default registry. Binaries import it once; libraries that only need
// one broker import that sub-package directly.
package transports

import (
	_ "github.com/drblury/taskflow/transport/aws"
	_ "github.com/drblury/taskflow/transport/channel"
	_ "github.com/drblury/taskflow/transport/http"
	_ "github.com/drblury/taskflow/transport/kafka"
	_ "github.com/drblury/taskflow/transport/nats"
	_ "github.com/drblury/taskflow/transport/postgres"
	_ "github.com/drblury/taskflow/transport/rabbitmq"
	_ "github.com/drblury/taskflow/transport/sqlite"
)
