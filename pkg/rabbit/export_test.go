package rabbit

// Hooks for the black-box tests in package rabbit_test.

type FakeBroker = fakeBroker

var (
	NewFakeBroker     = newFakeBroker
	FastRetry         = fastRetry
	ConsumerTopology  = consumerTopology
	ConsumedTestQueue = testQueue
)

func (b *fakeBroker) Dial(url string) (Connection, error) {
	return b.dial(url)
}

func (b *fakeBroker) Enqueue(queue string, body []byte) {
	b.enqueue(queue, body, nil)
}

func (b *fakeBroker) QueueLen(name string) int {
	return b.queueLen(name)
}

func (b *fakeBroker) AckedBodies() []string {
	var bodies []string
	for _, s := range b.ackedMessages() {
		bodies = append(bodies, s.body)
	}
	return bodies
}

// NackRequeueFlags returns the requeue flag of every nack, in order.
func (b *fakeBroker) NackRequeueFlags() []bool {
	var flags []bool
	for _, s := range b.nackedMessages() {
		flags = append(flags, s.requeue)
	}
	return flags
}
