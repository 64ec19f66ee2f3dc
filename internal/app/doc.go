// Package app is the composition root of segcache.
//
// # Overview
//
// Build turns a config.Config into a store with every declared segment
// registered and every panel bound to its query. The two executions share
// it:
//
//   - Render (server): watches every panel in ModeServer, so only panels
//     with server_fetch load data, waits for those fetches, prints the panel
//     tree and writes a snapshot.
//   - Run (client): hydrates a ModeClient store from that snapshot, starts
//     the refresher and runs the TUI. Panels restored from the snapshot are
//     not fetched again; the rest load on first watch.
//
// # Data Flow
//
//	Render()                         Run()
//	  ├─> config.Load()                ├─> config.Load()
//	  ├─> Build(ModeServer)            ├─> Build(ModeClient)
//	  ├─> Binding.Watch() per panel    ├─> store.ReadSnapshot() + Hydrate()
//	  ├─> Store.Wait()                 ├─> StartRefresher()
//	  ├─> view.Render() -> Out         └─> ui.Run()  (blocks)
//	  └─> store.WriteSnapshot()
//
// # Refreshing
//
// The refresher reloads every watched query each interval. While pieces keep
// failing the delay doubles per failed piece up to 30 seconds, and returns
// to the base interval once a pass comes back clean.
//
// # Logging
//
// Logs go to log_path when set. Otherwise Render logs warnings to stderr and
// Run discards them so the TUI owns the terminal.
package app
