// Package settingsstore persists slot selections and settings across
// restarts.
//
// A Record holds the selected implementation of one slot and its settings
// flattened to scalar fields. Records are keyed by the slot key
// ("laser/Laser") and kept by one of three backends:
//
//   - SQLiteStore: the slot_selections and slot_settings tables
//   - RedisStore: Settings.SelectedComponent[...] and
//     Settings.ComponentSettings[...] keys
//   - MemoryStore: in-process, for tests and ephemeral runs
//
// A Persister ties a store to a component.Container:
//
//	p := settingsstore.NewPersister(container, store, cfg.Persistence.Debounce())
//	container.InitFrom(settingsstore.Chain(p.Resolver(ctx), defaults))
//	if err := p.Watch(); err != nil {
//	    return err
//	}
//	defer p.Close()
//
// Resolver is the only reader of the store and the change watcher the only
// writer.
package settingsstore
