// Package writers detects requested property writes and turns them into
// queue write messages.
//
// A write is requested by setting the expected value of a settable
// dynamic property together with a plain pending marker. The write
// consumer of the queue then sends the value to the device and replaces
// the marker with a timestamp. Three writers detect requests:
//
//   - Periodic scans the properties of connected devices on a 10ms tick,
//     one write per tick, and re-issues writes pending for too long.
//   - Event observes the local state store and reacts immediately.
//   - Exchange listens on the MQTT property exchange tree, so requests
//     made by other services reach the connector.
//
// StatePublisher is the counterpart of Exchange: it publishes local state
// changes of the connector's properties to the same tree.
//
// # Usage
//
//	w, err := writers.New(writers.KindEvent, writers.Deps{
//	    Connector:  connector,
//	    Repository: repo,
//	    States:     states,
//	    Events:     states,
//	    Queue:      q,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := w.Connect(ctx); err != nil {
//	    return err
//	}
//	defer w.Disconnect()
package writers
