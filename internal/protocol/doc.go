// Package protocol defines the JSON messages exchanged between the server and
// a listener, over the streaming channel and the synchronous HTTP endpoints.
package protocol
