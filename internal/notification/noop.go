package notification

import "context"

// NoopNotifier discards every notification.
type NoopNotifier struct{}

func (n *NoopNotifier) NotifyDeliveryFailed(context.Context, DeliveryFailure) error { return nil }

func (n *NoopNotifier) NotifyCircuitTrip(context.Context, string, int) error { return nil }

func (n *NoopNotifier) NotifyCircuitRecover(context.Context, string) error { return nil }

func (n *NoopNotifier) Close() error { return nil }
