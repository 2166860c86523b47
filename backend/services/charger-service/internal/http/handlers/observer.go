package handlers

// Observer receives request outcomes for metrics.
type Observer interface {
	ObservePayment(outcome string)
	ObservePage(status string)
}

type noopObserver struct{}

func (noopObserver) ObservePayment(string) {}
func (noopObserver) ObservePage(string)    {}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return noopObserver{}
	}
	return o
}
