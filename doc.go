// Package roboflex is a small robotics middleware: a graph of nodes that
// pass messages to each other, a schema-less binary serializer that
// understands tensors, and transports that carry messages between threads,
// processes and machines.
//
// # Philosophy
//
// A robot program is a dataflow graph. Sensors produce messages, nodes
// transform or filter them, and actuators or loggers consume them. Nodes
// know nothing about where their messages come from or go to, so the same
// graph runs in one goroutine, across goroutines behind a queue, or across
// machines behind NATS or WebSocket.
//
// roboflex MUST NOT contain:
//   - Robot-specific drivers (cameras, IMUs, motor controllers)
//   - Schema definitions for message contents
//   - A scheduler; every node runs on the goroutine that signals it unless
//     a transport hands the message to another goroutine
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           Graph                     │  Connect, Walk, StartAll,
//	│   (nodes, edges, lifecycle)         │  StopAll, Health
//	└─────────────────────────────────────┘
//	           ↓ delivers
//	┌─────────────────────────────────────┐
//	│         Messages                    │  _meta header plus a
//	│  (meta + lazily decoded value)      │  tensor-aware payload
//	└─────────────────────────────────────┘
//	           ↓ carried by
//	┌─────────────────────────────────────┐
//	│         Transports                  │  in-process queue,
//	│   (queue, natsbus, wsbus)           │  NATS, WebSocket
//	└─────────────────────────────────────┘
//
// # Fan-Out Pattern
//
// A node may be connected to any number of downstream nodes. Signal delivers
// to each in connection order on the caller's goroutine:
//
//	                ┌─────────────┐
//	                │  Frequency  │
//	                │  Generator  │
//	                └──────┬──────┘
//	                       │
//	     ┌─────────────────┼─────────────────┐
//	     ↓                 ↓                 ↓
//	┌────────┐       ┌──────────┐      ┌──────────┐
//	│  NATS  │       │WebSocket │      │ Printer  │
//	│Publish │       │ Publish  │      │          │
//	└────────┘       └──────────┘      └──────────┘
//
// # Crossing Machines
//
// A publisher serializes once on Receive and sends from its own goroutine,
// so a slow link never stalls the sender. Its subscriber counterpart decodes
// and signals downstream as a new hop, stamping its own sequence number.
//
//	┌──────────────────────┐            ┌──────────────────────┐
//	│     Robot (edge)     │            │   Workstation        │
//	│                      │   nats://  │                      │
//	│  camera → publisher ─┼───────────→┼─ subscriber → viewer │
//	│                      │   ws://    │                      │
//	└──────────────────────┘            └──────────────────────┘
//
// The cmd/roboflex binary wires these pieces from a JSON or YAML
// configuration file; see package config for the keys.
package roboflex
