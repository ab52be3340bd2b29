// Package client implements the chat side of a murmur relay connection.
//
// A Client holds at most one server connection. Connect tears down any
// existing connection before dialing, Send hands a message to the connection
// goroutine, and incoming messages are passed to the OnMessage callback:
//
//	c, err := client.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.OnMessage(func(msg string) { fmt.Println(msg) })
//	if err := c.Connect(ctx, "relay.example", 4000); err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Send("hello"); err != nil {
//	    log.Println(err)
//	}
//
// Messages the client sends are not echoed back to it; the relay forwards
// them, prefixed with the sender's label, to every other client.
package client
