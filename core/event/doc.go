// Package event provides a typed in-memory publish/subscribe bus. Topics are
// declared as Topic[T] values that bind a topic name to its payload type, so
// publishing a wrong payload type is a compile error rather than a runtime
// surprise.
//
// # Core Components
//
// Topic[T] names an event stream and fixes its payload type. Declare topics
// as package-level values shared by publishers and subscribers.
//
// Bus is the hub: it fans each published payload out to the topic's
// subscribers. Delivery never blocks the publisher; a subscriber whose
// buffer is full misses that event, and the miss is counted in the bus
// stats.
//
// Subscription[T] is a typed stream for one topic. Its Events channel closes
// when the subscription is cancelled or the bus shuts down, so consumers can
// simply range over it.
//
// Publish and Subscribe are package-level generic functions because Go
// methods cannot introduce type parameters.
//
// # Basic Usage
//
//	import (
//		"context"
//		"log/slog"
//		"os"
//
//		"github.com/dmitrymomot/jobq/core/event"
//	)
//
//	type OrderPlaced struct {
//		OrderID string
//		Total   int64
//	}
//
//	var TopicOrderPlaced = event.Topic[OrderPlaced]("billing:order:placed")
//
//	func main() {
//		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//
//		bus := event.NewBus(
//			event.WithBufferSize(100),
//			event.WithLogger(logger),
//		)
//		defer bus.Close()
//
//		sub, err := event.Subscribe(bus, TopicOrderPlaced)
//		if err != nil {
//			panic(err)
//		}
//		defer sub.Unsubscribe()
//
//		go func() {
//			for order := range sub.Events() {
//				logger.Info("order placed", "order_id", order.OrderID)
//			}
//		}()
//
//		_ = event.Publish(context.Background(), bus, TopicOrderPlaced, OrderPlaced{
//			OrderID: "ord_123",
//			Total:   4200,
//		})
//	}
//
// # Delivery Semantics
//
// Publish delivers to the subscribers registered at the moment of the call;
// there is no replay for late subscribers. Each subscriber has its own
// buffered channel, so one slow consumer cannot stall the publisher or other
// consumers. When a buffer is full the event is dropped for that subscriber,
// the drop is recorded in Stats, and a warning is logged.
//
// Use a larger buffer (WithBufferSize on the bus, or WithSubscriberBuffer on
// one subscription) when consumers run bursty workloads:
//
//	sub, err := event.Subscribe(bus, TopicOrderPlaced,
//		event.WithSubscriberBuffer(1024),
//	)
//
// # Shutdown
//
// Close waits for in-flight publishes, rejects new Publish and Subscribe
// calls with ErrBusClosed, and closes all subscriber channels. Consumers
// ranging over Events terminate naturally. Unsubscribe is safe to call after
// Close.
package event
