// Package gxserialbridge bridges serial byte streams over TCP.
//
// Three roles are provided:
//
//   - Client publishes a pseudo-terminal, optionally under a stable symbolic
//     link, and relays its bytes to a remote TCP listener. A lost connection
//     is re-established with exponential backoff while the device stays
//     published.
//   - Server shares one real serial port with many TCP peers. Serial bytes
//     are broadcast to every peer; bytes from any peer go to the port.
//   - Echo publishes a pseudo-terminal that writes every byte back, for
//     testing a client without hardware.
//
// # Construction
//
// Each role is built from its configuration and started explicitly.
//
//	cfg := gxserialbridge.DefaultClientConfig()
//	cfg.Host = "192.168.1.10"
//	cfg.Port = 5000
//	cfg.DevicePath = "/tmp/ttyV0"
//
//	client, err := gxserialbridge.NewClient(cfg, gxserialbridge.WithClientLogger(log))
//	if err != nil {
//	    // invalid configuration
//	}
//	if err := client.Start(); err != nil {
//	    // device or connection failure
//	}
//	defer client.Stop()
//	<-client.Done()
//
// # Relay semantics
//
// Bytes are forwarded unmodified, in order, per direction. Every wait is
// bounded so the loops observe shutdown promptly. A partial device write is
// logged and not retried.
//
// # Shutdown
//
// Stop is idempotent and may be called from any goroutine. It waits for the
// loops within a bounded timeout and then releases resources in a fixed
// order: listener, peers, connection, device. A published link is removed
// only if it still points at the device this process created.
//
// # Errors
//
// Startup failures are returned as *ConfigurationError, *DeviceError or
// *ConnectionError. Failures inside the relay loops are logged and handled
// by the loop that observed them.
package gxserialbridge
