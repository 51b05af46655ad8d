package util

// A Gate bounds the number of goroutines working at once. A worker calls
// Enter before starting and Leave when finished. Enter blocks while n
// workers are already inside. The two calls need not come from the same
// goroutine, as long as they balance.
type Gate chan struct{}

// NewGate returns a Gate admitting at most n workers at a time.
func NewGate(n int) Gate {
	return make(Gate, n)
}

// Enter blocks until there is room inside the gate.
func (g Gate) Enter() {
	g <- struct{}{}
}

// Leave frees a slot for the next waiting worker.
func (g Gate) Leave() {
	<-g
}
