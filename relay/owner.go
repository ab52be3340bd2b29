package relay

import (
	"time"

	"github.com/opd-ai/murmur/transport"
)

// event is what a slot owner reports to the coordinator: one received
// message, or the error that ended its receive loop.
type event struct {
	index      int
	generation uint64
	msg        string
	err        error
}

// sendRequest asks an owner to run one Send on its session.
type sendRequest struct {
	msg    string
	result chan error
}

// slotOwner performs all I/O for one admitted connection. Only the owner
// goroutine touches the session; the coordinator reaches it through outbox.
type slotOwner struct {
	index        int
	generation   uint64
	session      *transport.Session
	pollInterval time.Duration

	events chan<- event
	outbox chan sendRequest
	quit   chan struct{}
	done   chan struct{}
}

func newSlotOwner(index int, generation uint64, session *transport.Session, pollInterval time.Duration, events chan<- event) *slotOwner {
	return &slotOwner{
		index:        index,
		generation:   generation,
		session:      session,
		pollInterval: pollInterval,
		events:       events,
		outbox:       make(chan sendRequest),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// run alternates between serving send requests and polling for an incoming
// exchange. Input already waiting is received before the next send request.
// It returns after reporting a receive failure or when quit closes.
func (o *slotOwner) run() {
	defer close(o.done)

	for {
		if o.session.Pending() {
			select {
			case <-o.quit:
				return
			default:
			}
		} else {
			select {
			case <-o.quit:
				return
			case req := <-o.outbox:
				o.serve(req)
				continue
			default:
			}
		}

		ready, err := o.session.Poll(o.pollInterval)
		if err != nil {
			o.report("", err)
			return
		}
		if !ready {
			continue
		}

		msg, err := o.session.Receive()
		if !o.report(msg, err) || err != nil {
			return
		}
	}
}

func (o *slotOwner) serve(req sendRequest) {
	req.result <- o.session.Send(req.msg)
}

// report hands an event to the coordinator. Send requests that arrive in the
// meantime are served so a coordinator delivering to this slot never waits
// on it. It returns false if the owner was told to quit.
func (o *slotOwner) report(msg string, err error) bool {
	ev := event{
		index:      o.index,
		generation: o.generation,
		msg:        msg,
		err:        err,
	}
	for {
		select {
		case o.events <- ev:
			return true
		case req := <-o.outbox:
			o.serve(req)
		case <-o.quit:
			return false
		}
	}
}

// stop tells the owner to exit. The caller closes the connection to unblock
// any exchange in progress and then waits on done.
func (o *slotOwner) stop() {
	close(o.quit)
}
