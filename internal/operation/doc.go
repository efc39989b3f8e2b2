// Package operation provides interned identifiers for measured actions.
//
// An Operation is a small comparable handle (numeric id plus name) that is
// used as a map key by statistics. Handles are issued by an explicit
// Registry that is populated once at startup and frozen before any stressor
// goroutine starts, after which lookups are read-only.
//
// # Basic Usage
//
//	reg := operation.NewRegistry()
//	get := reg.MustRegister("GET")
//	put := reg.MustRegister("PUT")
//	reg.Freeze()
//
//	same, _ := reg.Register("GET") // same == get
//
// # Lifecycle Operations
//
// Begin, Commit, Rollback and Transaction have reserved ids and are present
// in every registry. The stressor records transaction boundaries under them.
package operation
