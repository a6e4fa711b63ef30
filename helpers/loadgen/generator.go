package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Summary counts the outcome of a run.
type Summary struct {
	Published int
	Failed    int
}

// LoadGenerator drives a set of devices against one Client.
type LoadGenerator struct {
	client    Client
	devices   []*Device
	logger    zerolog.Logger
	published atomic.Int64
	failed    atomic.Int64
}

// NewLoadGenerator creates a LoadGenerator.
func NewLoadGenerator(client Client, devices []*Device, logger zerolog.Logger) *LoadGenerator {
	return &LoadGenerator{
		client:  client,
		devices: devices,
		logger:  logger.With().Str("component", "LoadGenerator").Logger(),
	}
}

// Run publishes from every device until duration elapses or ctx is cancelled.
func (lg *LoadGenerator) Run(ctx context.Context, duration time.Duration) (Summary, error) {
	lg.published.Store(0)
	lg.failed.Store(0)
	lg.logger.Info().Int("num_devices", len(lg.devices)).Dur("duration", duration).Msg("Starting load generator")

	if err := lg.client.Connect(); err != nil {
		lg.logger.Error().Err(err).Msg("Failed to connect client")
		return Summary{}, err
	}
	defer lg.client.Disconnect()

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	for _, device := range lg.devices {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			lg.runDevice(runCtx, d)
		}(device)
	}
	wg.Wait()

	summary := Summary{
		Published: int(lg.published.Load()),
		Failed:    int(lg.failed.Load()),
	}
	lg.logger.Info().Int("published", summary.Published).Int("failed", summary.Failed).Msg("Load generator finished")
	return summary, nil
}

func (lg *LoadGenerator) runDevice(ctx context.Context, device *Device) {
	if device.MessageRate <= 0 {
		lg.logger.Warn().Str("device_id", device.ID).Msg("Device has a message rate of 0, no messages will be sent")
		return
	}

	interval := time.Duration(float64(time.Second) / device.MessageRate)
	// Rates above one per nanosecond round to zero, which NewTicker rejects.
	if interval <= 0 {
		interval = time.Nanosecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg.logger.Debug().Str("device_id", device.ID).Float64("rate_hz", device.MessageRate).Dur("interval", interval).Msg("Device starting")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := lg.client.Publish(ctx, device)
			switch {
			case err != nil:
				lg.failed.Add(1)
				lg.logger.Error().Err(err).Str("device_id", device.ID).Msg("Failed to publish message")
			case sent:
				lg.published.Add(1)
			}
		}
	}
}
