// Package session turns a casaos.ServerConfig into a usable API session.
//
// # Negotiation
//
// Negotiator.Negotiate runs one pass of:
//
//  1. Validate the config; an invalid config never touches the network.
//  2. Log in when both username and password are set. Any login failure is
//     logged at debug and degrades to probing, since many servers run
//     without authentication.
//  3. Probe, most specific first, stopping at the first conclusive answer:
//     the home page (product marker or generic HTML), the health endpoint,
//     then a bare page fetch of the base URL.
//
// Transport faults move the cascade along. When every probe faulted the
// result carries "Connection failed: <fault>".
//
// There is no retry loop and no debouncing here. Callers that trigger
// negotiation from a UI disable the control while one is in flight.
//
// # Manager
//
// Manager holds at most one current Session. UpdateConfig with a different
// config drops the session and token. Negotiate commits only when its
// context is still live and no config change happened while it ran; a
// discarded result is reported with ErrDiscarded. Client builds the API
// client lazily and its token source stops yielding the token once the
// session it was bound to is replaced.
package session
