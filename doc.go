/*
Package weave is a durable workflow orchestration core.

A workflow is a directed acyclic graph of typed nodes. The graph is validated,
then compiled once per version into a flat Program for a small stack-based
virtual machine. A run is nothing more than a Frame: an instruction pointer,
a stack, local slots and the global run state. Frames are checkpointed to a
StateStore and carried between workers by a Backplane, so any worker can pick
up any run where the last one stopped.

# Concept

Node types live in a registry. A node declares its ports and an estimated
cost, and runs its logic at most once per instance. Types marked as
activities have their results recorded: when a frame is replayed after a
crash, the recorded output is used instead of calling the node again.

Executors consume frames from the backplane with bounded parallelism, admit
calls against a per-tick cost budget, checkpoint every suspension and retry
transient faults by redelivery.

# Usage

	eng := weave.New()

	prog, err := eng.Publish(ctx, graph)
	if err != nil {
		log.Fatal(err) // *domain.ValidationError for invalid graphs
	}

	go eng.Executor().Run(ctx)

	runID, err := eng.Start(ctx, prog.ID, map[string]any{"customer": "ada"})

For quick experiments RunLocal walks a graph in-process without compiling or
persisting it.

Production deployments swap the in-memory adapters for the Redis, SQL or file
ones in pkg/adapters with WithStateStore, WithProgramStore, WithJoinCounter
and WithBackplane.
*/
package weave
