// Package binflow contains the core bin-packing engine. The main type is
// Engine, which can be created using New. On each Trigger it pulls items from
// a SessionFactory, assigns them to bins by group key, migrates bins that have
// satisfied their completion policy into a ready queue, and hands each ready
// bin to a Processor implementation. Some Session and Processor
// implementations are provided in related packages, or you can create your
// own based on your needs.
//
// A bin completes when it satisfies MinEntries and MinSize from its captured
// Policy, when it becomes full (MaxEntries or MaxSize reached), when it ages
// past MaxBinAge, or when it is evicted under global capacity pressure.
// Fullness takes precedence over minimum thresholds: a bin that can accept no
// more items is handed off even if it is below its minimums.
//
// The engine never looks at item payloads. It only needs each item's size and
// the group key computed by the caller's GroupKeyFunc.
//
// Each bin exclusively owns one transactional Session. When a bin is handed
// to the Processor, the outcome decides the session's fate:
//
//   - success: processor attributes are applied to every item, the items are
//     transferred to RelOriginal, and the session is committed
//   - recoverable failure: all items are transferred to RelFailure and the
//     session is committed (the failure path is itself a committable transfer)
//   - any other failure: the session is rolled back and the items return to
//     the upstream source for redelivery
//
// Failures are isolated to the offending item or bin; one bad item or bin
// never aborts the activation or affects sibling bins.
//
// A minimal setup:
//
//	store := source.NewMemory()
//	eng, err := binflow.New(binflow.DefaultPolicy(), store, groupFn, proc)
//	if err != nil {
//	  log.Fatal(err)
//	}
//	for eng.Trigger(ctx) {
//	}
//
// Engine performs no internal threading. An external scheduler invokes
// Trigger repeatedly; Runner provides a simple one with yield backoff.
// Concurrent Trigger calls on the same Engine are serialized internally.
package binflow
