package appbootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sapsan-iro/config"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

// Run wires the whole service and blocks until SIGINT/SIGTERM. Order at
// shutdown: stop accepting HTTP, stop cron, drain the workflow engine.
func Run(configPath string) error {
	logger := utils.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		return err
	}

	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}

	comp.engine.StartWithContext(ctx)
	if err := comp.engine.Recover(ctx); err != nil {
		logger.Errorf("bootstrap: recover: %v", err)
	}
	comp.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- comp.server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Infof("bootstrap: received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := comp.server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("bootstrap: http shutdown: %v", err)
	}
	<-comp.cron.Stop().Done()
	if err := comp.engine.StopWithContext(shutdownCtx); err != nil {
		logger.Errorf("bootstrap: engine shutdown: %v", err)
	}
	return nil
}
