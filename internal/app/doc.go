// Package app is the composition root for casadeck.
//
// Bootstrap loads config.toml, opens the log file and the credential store,
// builds the shared HTTP client, negotiator and session manager, and primes
// the manager with the last stored server config. The CLI uses the returned
// Env directly; Run adds the poller and the TUI on top of it.
//
// Startup flow for the TUI:
//
//	Run()
//	  ├─> Bootstrap()          config, logging, credstore, session manager
//	  ├─> Env.ShouldRestore()  was the last run logged in?
//	  ├─> Poller.Start()       background SystemInfo + ListApps refresh
//	  └─> ui.Run()             blocks until quit; auto-login runs inside
//	                           the UI as a cancellable negotiation
//
// The poller skips ticks while no session is negotiated and backs off
// exponentially on consecutive failures. Failures never stop it; the UI
// reads them from the state snapshot.
package app
