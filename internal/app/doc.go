// Package app wires keyforge together: configuration, logging, telemetry,
// the key store, the lifecycle engine, the HTTP router and the optional
// cleanup scheduler.
//
// # Initialization Flow
//
//	1. Load configuration (config.Load) and initialize logging
//	2. Initialize OpenTelemetry providers
//	3. Open the configured store, applying its schema when it owns one
//	4. Build the key generator and lifecycle engine
//	5. Mount routes behind rate limiters and the admin gate
//	6. Start the HTTP server, limiter janitors and scheduler
//
// # Usage
//
//	app, err := app.NewApplication(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return app.Run()
//
// # Graceful Shutdown
//
// Run blocks until SIGINT or SIGTERM, then drains in-flight requests,
// stops background workers, closes the store and flushes telemetry. The
// package never calls os.Exit.
package app
