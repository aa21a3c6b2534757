// Package server routes trace datagrams from a UDP socket into a
// store.TraceStore.
//
// The receive loop never blocks on storage: each datagram is copied and
// dispatched on its own goroutine. A failed dispatch is logged, counted and
// reported to the OnError hook; it never stops the router.
package server
