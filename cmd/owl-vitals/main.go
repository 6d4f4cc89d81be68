package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"owl-vitals/internal/config"
	"owl-vitals/internal/logger"
	"owl-vitals/internal/service"
)

const serviceName = "owl-vitals"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Patient vitals monitoring with anomaly detection, forecasting and risk alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCommand(), newTrainCommand(), newSimulateCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring loop and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newTrainCommand() *cobra.Command {
	var opts service.TrainOptions
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the autoencoder and sequence model on synthetic readings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if opts.Dir == "" {
				opts.Dir = cfg.ModelStore.Dir
			}
			return service.TrainOffline(cfg, opts, log)
		},
	}
	cmd.Flags().IntVar(&opts.Samples, "samples", 1000, "number of synthetic readings")
	cmd.Flags().StringVar(&opts.Dir, "out", "", "model directory (default MODEL_DIR)")
	cmd.Flags().IntVar(&opts.Epochs, "epochs", 0, "override training epochs")
	cmd.Flags().BoolVar(&opts.Sequence, "sequence", true, "also train the sequence model")
	return cmd
}

func newSimulateCommand() *cobra.Command {
	var (
		patientID string
		ticks     int
		episode   string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run ticks for one patient and print each payload as a JSON line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg.Monitor.Patients = []string{patientID}
			svc, err := service.NewVitalsService(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			mon := svc.Monitor()
			if episode != "" {
				mon.Generator(patientID).StartEpisode(episode, ticks)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i := 0; i < ticks; i++ {
				payload, err := mon.Simulate(cmd.Context(), patientID)
				if err != nil {
					return err
				}
				if err := enc.Encode(payload); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "demo_patient", "patient id")
	cmd.Flags().IntVar(&ticks, "ticks", 10, "number of readings")
	cmd.Flags().StringVar(&episode, "episode", "", "force an episode (tachycardia, hypoxia, fever, ...)")
	return cmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, log, nil
}

func runServe(parent context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	vitalsService, err := service.NewVitalsService(cfg, log)
	if err != nil {
		log.Error("Failed to create vitals service", zap.Error(err))
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- vitalsService.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case runErr = <-serviceErrChan:
		if runErr != nil {
			log.Error("Service error", zap.Error(runErr))
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := vitalsService.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop vitals service", zap.Error(err))
	}

	log.Info("Vitals service stopped")
	return runErr
}
