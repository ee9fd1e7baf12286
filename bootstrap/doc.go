// Package bootstrap wires configuration, storage, the backend connector and
// the execution engine into a runnable application.
//
// Usage:
//
//	cfg, logger, _, err := bootstrap.InitConfig(configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	app, err := bootstrap.NewApp(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
