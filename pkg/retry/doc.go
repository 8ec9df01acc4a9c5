// Package retry provides the exponential backoff policies used by the broker
// consumer, the publisher reconnect path and bounded external calls.
//
// A Policy hands out jittered, exponentially growing delays capped at
// MaxInterval and reports exhaustion once MaxElapsedTime has passed. The zero
// MaxElapsedTime retries forever, which is what the consumer and publisher use.
//
// Basic Usage:
//
//	policy := retry.NewPolicy(retry.DefaultConfig())
//	err := retry.Do(ctx, policy, func() error {
//		return dial()
//	}, func(err error, next time.Duration) {
//		log.Warn("dial failed, retrying", err, map[string]interface{}{"retry_in": next.String()})
//	})
//
// Bounded calls:
//
//	err := retry.CallWithDefaultTimeout(ctx, fetch, nil) // gives up after 30s
//
// Wrap an error with retry.Permanent to stop retrying immediately.
package retry
