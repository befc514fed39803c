// Package nodes provides the general-purpose node types every roboflex graph
// is assembled from.
//
// Pass-through and routing nodes (Callback, Filter, FilterName, Map, EveryN,
// LastOne, Printer, Throttle, Metrics) run on the goroutine that delivered
// the message. FrequencyGenerator and Producer are runnable nodes with their
// own goroutine and must be started.
//
// A small pipeline that prints every fifth tick:
//
//	gen, err := nodes.NewFrequencyGenerator("ticker", 50)
//	if err != nil {
//		return err
//	}
//	every, _ := nodes.NewEveryN("every5", 5)
//	g := graph.New()
//	if err := g.Chain(gen, every, nodes.NewPrinter("out", os.Stdout)); err != nil {
//		return err
//	}
//	if err := g.StartAll(ctx); err != nil {
//		return err
//	}
//	defer g.Close()
//
// Take and TakeOne collect messages from a node synchronously, which is
// mostly useful in tests and interactive tools.
package nodes
