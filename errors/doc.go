// Package errors classifies failures so callers can decide between retrying,
// rejecting and stopping.
//
// # Classes
//
//   - Transient: timeouts, lost connections, open circuit breakers. Retry.
//   - Invalid: malformed payloads, unsupported values, lifecycle misuse. Do not retry.
//   - Fatal: corrupted data, exhausted resources, bad configuration. Stop.
//
// # Wrapping
//
// Every wrap helper follows "component.method: action failed: cause":
//
//	if err := client.Publish(ctx, subject, payload); err != nil {
//	    return errors.WrapTransient(err, "Publisher", "flush", "publish payload")
//	}
//
// # Runtime errors
//
// The graph runtime and the serializer report typed errors that carry enough
// context to find the failing edge:
//
//   - DecodeError: message name and path of a malformed value.
//   - EncodeError: path of a value that cannot be encoded.
//   - LifecycleError: node name and state for start misuse.
//   - ReceiveError: sender, receiver and message name of a failed delivery.
//
// All of them unwrap to their cause and implement ErrorClass, so Classify,
// IsInvalid and friends work on them directly:
//
//	var re *errors.ReceiveError
//	if stderrors.As(err, &re) {
//	    logger.Warn("edge failed", "from", re.Sender, "to", re.Receiver)
//	}
package errors
