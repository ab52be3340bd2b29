// Package transport carries the murmur relay protocol over TCP.
//
// # Session
//
// A Session runs the per-message exchange on one net.Conn. Every message is a
// strict, synchronous four-step exchange:
//
//  1. sender writes a fixed-size probe (limits.ProbeLength bytes)
//  2. receiver writes a key declaration envelope holding its public key
//  3. sender encrypts for that key and writes the full envelope
//  4. receiver reads and decrypts the envelope
//
// The same pair of methods drives a client sending to the server and the
// server relaying to a client:
//
//	s := transport.NewSession(conn, keys, 5*time.Second)
//	if err := s.Send("hello"); err != nil { ... }
//
//	ready, err := s.Poll(10 * time.Millisecond)
//	if ready {
//	    msg, err := s.Receive()
//	}
//
// Send("") is a no-op with no network I/O. Every step is bounded by the
// session's step timeout; expiry surfaces as ErrTimeout.
//
// Both ends may start a Send at the same instant. Each then reads the other's
// probe where it expects a key declaration, which codec.IsProbe detects. The
// SideServer end finishes its own message first and answers the peer's
// exchange on its next Receive. The SideClient end yields: it receives the
// server's message inside Send, keeps it for the next Receive, and then
// completes its own. Sessions start as SideClient; the relay calls
//
//	s.SetSide(transport.SideServer)
//
// on every accepted connection. Pending reports without blocking whether such
// a message or exchange is waiting, so loops can drain input before sending.
//
// # Dialing
//
// Dial resolves and connects, directly or through a SOCKS5 proxy:
//
//	conn, err := transport.Dial(ctx, "relay.example.org", 7777, &transport.DialOptions{
//	    Proxy: &transport.ProxyConfig{Host: "127.0.0.1", Port: 9050},
//	})
//
// # Errors
//
// Errors are *OpError values wrapping one of ErrResolution, ErrConnection,
// ErrTimeout, ErrPeerClosed, codec.ErrDecryption, codec.ErrEncryption or
// limits.ErrMessageTooLong; test them with errors.Is.
package transport
