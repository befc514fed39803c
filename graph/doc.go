// Package graph is the node-graph execution runtime.
//
// A Node receives messages through Receive and emits them through its
// embedded *Base. Edges live in a Graph arena: Connect registers a target,
// and Signal delivers a message to every target of the signalling node in
// edge-registration order, synchronously, on the caller's goroutine. A
// receiver that signals from inside Receive continues the propagation
// depth-first on the same goroutine.
//
// Basic usage:
//
//	g := graph.New()
//	src := nodes.NewFrequencyGenerator("ticker", 10)
//	sink := nodes.NewCallback("print", func(ctx context.Context, m *message.Message) error {
//		fmt.Println(m)
//		return nil
//	})
//	if err := g.Connect(src, sink); err != nil {
//		return err
//	}
//	if err := g.StartAll(ctx); err != nil {
//		return err
//	}
//	defer g.Close()
//
// Duplicate edges, self-edges and cycles are allowed and never detected; a
// cycle terminates only if some receiver stops signalling.
//
// # Concurrency
//
// Plain nodes own no goroutine. A Runnable owns exactly one goroutine, which
// runs its loop until the loop returns or Stop cancels its context. Stop
// blocks until that goroutine has exited. Decoupling between goroutines is
// explicit: a queue or transport adapter node hands messages to another
// goroutine through a bounded drop-oldest queue.
//
// Edges should be established before any node is started. Mutating the
// topology while messages flow is safe for the arena itself but gives no
// guarantee about which in-flight messages observe the change.
//
// # Errors
//
// Propagation stops at the first receiver that returns an error; Signal
// returns an *errors.ReceiveError naming the failing edge. When the failure
// happened deeper in a chain, the innermost ReceiveError is returned as is.
package graph
