// Package chat provides the assistant chat client for the sciconv service.
//
// A Client owns one logical WebSocket connection to the chat endpoint. It
// exposes Connect, Disconnect and Send, reports its lifecycle through an
// explicit State and through ConnectionListener notifications, and delivers
// every parsed inbound envelope to the registered MessageListeners.
//
// Listener delivery happens on a single dispatcher goroutine per client, in
// the order transitions happen and payloads arrive. Each listener is invoked
// against a snapshot of the registrations taken at delivery time; an error or
// panic from one listener is logged and does not stop the others.
//
// Reconnection is not automatic. Backoff describes the retry schedule as a
// pure function of the attempt count, and Reconnector applies it when
// registered as a ConnectionListener or when Reconnect is called directly.
package chat
