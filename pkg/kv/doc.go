// Package kv is the backend-neutral contract of the engine: the Store
// interface, its error taxonomy, the transaction and pipeline front ends and
// the backend registry.
//
// A Store holds strings, counters, hashes, sets, lists, sorted sets,
// geospatial indexes, HyperLogLog counters and streams with consumer groups.
// It also fans out pub/sub messages. Any key may carry a TTL. A key holds one
// kind of value at a time, and using it as another kind fails with
// ErrWrongType. Empty pops report ok=false rather than an error.
//
// Backends register themselves on import:
//
//	import _ "github.com/arbi/kvengine/pkg/kv/memory"
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if _, err := store.XAdd(ctx, "orders", []kv.Field{{Name: "amount", Value: "25000"}}); err != nil {
//		return err
//	}
//	switch err := store.XGroupCreate(ctx, "orders", "billing", "0"); {
//	case errors.Is(err, kv.ErrGroupExists):
//	case err != nil:
//		return err
//	}
//
// With FailoverEnabled and the redis backend, NewStoreFromConfig returns a
// FailoverStore that serves from memory while Redis is unreachable.
//
// Tx applies a batch all or nothing and aborts with ErrConflict when a
// watched key changed. Pipeline applies each command on its own and reports
// a Result per command.
package kv
