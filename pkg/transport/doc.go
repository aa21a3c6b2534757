// Package transport carries encoded pulse messages over UDP.
//
// Delivery is best effort: a UDPSender writes each payload as a single
// datagram with no acknowledgement or retry, and a UDPListener hands each
// received datagram to the caller as-is. Ordering across datagrams is not
// guaranteed.
package transport
