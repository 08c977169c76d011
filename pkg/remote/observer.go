package remote

// Observer receives the notifications of a Connection. Callbacks run one at
// a time on the connection's dispatch goroutine and must not wait for
// further notifications of the same connection.
type Observer interface {
	Opened(success bool)
	Error(msg string)
	Closed()
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	OnOpened func(success bool)
	OnError  func(msg string)
	OnClosed func()
}

func (o ObserverFuncs) Opened(success bool) {
	if o.OnOpened != nil {
		o.OnOpened(success)
	}
}

func (o ObserverFuncs) Error(msg string) {
	if o.OnError != nil {
		o.OnError(msg)
	}
}

func (o ObserverFuncs) Closed() {
	if o.OnClosed != nil {
		o.OnClosed()
	}
}
