package relay

import (
	"go.uber.org/fx"

	"github.com/relaykit/amqpkit/pkg/rabbit"
)

// FXModule provides the relay as the rabbit.MessageProcessor consumed by
// rabbit.ConsumerModule. Startup fails when the consumer configuration would
// drop deliveries the relay nacks.
var FXModule = fx.Module("relay",
	fx.Provide(NewProcessorFromParams),
)

// Params are the relay dependencies injected by fx.
type Params struct {
	fx.In

	Config    Config
	Rabbit    rabbit.Config
	Publisher *rabbit.Publisher
	Logger    rabbit.Logger
}

// NewProcessorFromParams checks redelivery and builds the Processor.
func NewProcessorFromParams(p Params) (rabbit.MessageProcessor, error) {
	if err := CheckRedelivery(p.Rabbit.Consumer); err != nil {
		return nil, err
	}
	return NewProcessor(p.Config, p.Publisher, p.Logger)
}
