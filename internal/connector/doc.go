// Package connector ties the Sonoff connector together.
//
// A Connector owns the message queue and its consumers. Execute starts
// the client of the configured mode, a writer and the queue drain loop;
// Discover runs a one-shot discovery while draining the queue so found
// devices are stored as they arrive.
//
// # Lifecycle
//
//	Execute ──▶ client.Connect ──▶ writer.Connect ──▶ drain every 10ms
//	                                                       │
//	Terminate ──▶ writer/client disconnect ──▶ drain stops once the queue is empty
//
// The host should keep the process alive while HasUnfinishedTasks
// reports true, so messages produced before the stop are still stored.
//
// # Writers
//
// In daemon mode the event writer is used: requests are made in the same
// process and observed on the state store. Standalone runs use the
// configured periodic or exchange writer.
//
// # Health
//
// With an MQTT bus configured, a HealthReporter publishes a retained
// health report on sonoff/v1/connector/<connector>/health.
package connector
