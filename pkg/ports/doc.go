/*
Package ports defines the driven ports (interfaces) of the Weave engine.

These interfaces decouple the core logic from external implementations, allowing
the engine to run against various persistence and messaging backends.

# Key Interfaces

  - StateStore: Durable checkpoints and the append-only activity log.
  - ProgramStore: Immutable compiled programs, stored once per workflow version.
  - JoinCounter: Atomic arrival counters for join points.
  - Backplane: At-least-once distribution of frames to consumer groups.
  - DistributedLocker: Cross-process mutual exclusion for a run.
*/
package ports
