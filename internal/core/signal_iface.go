package core

// Frame is a raw serialized signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalClient is the client end of a relay connection. Messages is closed
// when the connection drops; Send must be safe for concurrent use.
type SignalClient interface {
	Send(Message) error
	Messages() <-chan Message
	Close() error
}
