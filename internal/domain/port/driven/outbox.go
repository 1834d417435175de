package driven

import (
	"errors"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// ErrNoController is returned when a message must be sent but no controller
// link is attached.
var ErrNoController = errors.New("no controller connected")

// Outbox defines the driven port for messages sent to the controller.
//
// Send hands one record to the transport without blocking. If Send returns an
// error the message was not accepted and done is never called. Otherwise done
// is called exactly once, from any goroutine, with nil once the record has
// been transmitted or with the transport error. Callers keep at most one
// record in flight.
type Outbox interface {
	Send(msg model.Message, done func(error)) error
}
