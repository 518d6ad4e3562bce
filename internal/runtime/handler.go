package runtime

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/fluxbridge/internal/runtime/logging"
	transportpkg "github.com/drblury/fluxbridge/transport"
)

// UnprocessableEventError wraps payloads that could not be decoded. The
// poison queue middleware forwards them to the poison topic.
type UnprocessableEventError struct {
	eventMessage string
	err          error
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event: " + e.eventMessage + " error: " + e.err.Error()
}

func (e *UnprocessableEventError) Unwrap() error { return e.err }

func isUnprocessable(err error) bool {
	var unprocessable *UnprocessableEventError
	return errors.As(err, &unprocessable)
}

// handle runs one payload through the pipeline. A nil return acks the
// message. Recovered failures ack as well; only a halted pipeline nacks, so
// the payload stays with the source for the next run.
func (s *Service) handle(msg *message.Message) error {
	report, err := s.pipeline.Process(msg.Context(), msg.Payload)
	if err != nil {
		s.terminate(err)
		return err
	}

	if s.Conf.PoisonQueue != "" && errspkg.KindOf(report.Failure) == errspkg.KindParse {
		s.metrics.RecordPoisoned()
		return &UnprocessableEventError{eventMessage: string(msg.Payload), err: report.Failure}
	}
	return nil
}

// watchFailures escalates asynchronous source failures, such as a lost
// broker connection, through the termination policy.
func (s *Service) watchFailures(ctx context.Context) {
	failures := transportpkg.Failures(s.subscriber)
	if failures == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.terminated:
			return
		case err, ok := <-failures:
			if !ok {
				return
			}
			failure := errspkg.NewFailure(errspkg.KindTransport, err)
			s.stats.recordTransportFailure(failure)
			if s.pipeline.Escalate(failure) != nil {
				s.terminate(failure)
				return
			}
			s.Logger.Info("Recovering from source failure", loggingpkg.LogFields{"source": s.Conf.GetSource()})
		}
	}
}
