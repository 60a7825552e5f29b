// Package event implements the observer-list primitive behind Censer's
// worker lifecycle notifications.
//
// The coordinator exposes two broadcast channels, "worker connected" and
// "worker disconnected", and external code subscribes to them through a
// Dispatcher. Each Dispatcher is an explicit object owned by its emitter;
// handlers are registered with a token and removed with the same token,
// and broadcasts run synchronously at the emission point.
package event
