/*
Package domain contains the core data model of the Weave orchestration engine.

It defines the immutable workflow description (Graph, NodeDef, EdgeDef), the
compiled instruction Program, and the small mutable cursors that represent a
run in flight (Frame for the compiled path, RuntimeState for local traversal).
This package is kept pure and free of I/O, following Hexagonal Architecture
principles; persistence and transport live behind the interfaces in pkg/ports.

# Key Entities

  - Graph: A versioned, immutable DAG of NodeDefs joined by EdgeDefs.
  - Program: The linear instruction chunk produced by the compiler. It owns
    the Graph it was compiled from, so a run never copies it.
  - Frame: The complete, serializable continuation of one run.
  - Checkpoint / ActivityRecord: The durable restart point and the append-only
    log of completed node attempts used for replay.
  - FrameMsg: The envelope that carries a Frame through the backplane.
*/
package domain
