// Package relay implements the murmur group-chat relay server.
//
// A Server accepts TCP connections into a fixed number of slots and
// rebroadcasts every message it receives, prefixed with the sender's label,
// to every other connected client:
//
//	srv, err := relay.Listen(":4000", &relay.Options{Capacity: 16})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Concurrency
//
// Run is the only goroutine that touches the connection Table. Each admitted
// connection is served by an owner goroutine that polls for incoming
// exchanges and runs the sends the coordinator posts to it. Owners report
// received messages and failures over a channel tagged with the slot
// generation, so late reports from an evicted client are discarded.
//
// When every slot is taken the server stops calling Accept. New connections
// wait in the listen backlog and are admitted as slots free up.
//
// Broadcast is sequential in slot order. A destination that fails its
// exchange is evicted; any receive failure (decryption, timeout or a closed
// peer) evicts the sender. A message that no longer fits once the label is
// prepended is dropped without evicting anyone.
package relay
