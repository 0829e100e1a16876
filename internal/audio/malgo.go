package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lucianHymer/speech-coach/internal/logger"
)

// MalgoDevice captures S16 mono audio from a miniaudio input device
type MalgoDevice struct {
	deviceName string // Optional: specify device by name
	sampleRate int
	logger     *logger.ContextLogger

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	stopping bool
}

// NewMalgoDevice creates a capture device.
// deviceName selects an input by name (empty = default), sampleRate 0 selects SampleRate.
func NewMalgoDevice(deviceName string, sampleRate int, log *logger.Logger) *MalgoDevice {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return &MalgoDevice{
		deviceName: deviceName,
		sampleRate: sampleRate,
		logger:     log.With("audio"),
	}
}

// Start opens the device and begins delivering frames to cb
func (d *MalgoDevice) Start(cb Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return ErrAlreadyRunning
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return &DeviceError{Op: "init", Err: err}
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil || len(infos) == 0 {
		freeContext(ctx)
		if err == nil {
			err = ErrNoInputDevice
		}
		return &DeviceError{Op: "open", Err: err}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)

	found := false
	for i, info := range infos {
		d.logger.Debug("[%d] %s default=%t", i, info.Name(), info.IsDefault != 0)
		if d.deviceName != "" && info.Name() == d.deviceName {
			deviceConfig.Capture.DeviceID = info.ID.Pointer()
			found = true
		}
	}

	if found {
		d.logger.Info("Using specified device: %s", d.deviceName)
	} else if d.deviceName != "" {
		d.logger.Warn("Device '%s' not found, using default", d.deviceName)
	} else {
		d.logger.Info("Using default audio device")
	}

	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = Channels
	deviceConfig.SampleRate = uint32(d.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onRecvFrames := func(_, pSample []byte, _ uint32) {
		if cb.Frames != nil && len(pSample) > 0 {
			cb.Frames(bytesToSamples(pSample))
		}
	}

	// miniaudio calls Stop on its own thread; the session may call back
	// into Stop from Lost, so hand it off
	onStop := func() {
		d.mu.Lock()
		requested := d.stopping
		d.mu.Unlock()

		if !requested && cb.Lost != nil {
			go cb.Lost(ErrDeviceLost)
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
		Stop: onStop,
	})
	if err != nil {
		freeContext(ctx)
		return &DeviceError{Op: "open", Err: err}
	}

	if device.SampleRate() != uint32(d.sampleRate) {
		d.logger.Warn("Device is using %d Hz, but we requested %d Hz", device.SampleRate(), d.sampleRate)
	}

	d.stopping = false
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return &DeviceError{Op: "start", Err: err}
	}

	d.ctx = ctx
	d.device = device
	return nil
}

// Stop halts capture and releases the device. Safe to call more than once.
func (d *MalgoDevice) Stop() error {
	d.mu.Lock()
	device, ctx := d.device, d.ctx
	d.device, d.ctx = nil, nil
	d.stopping = true
	d.mu.Unlock()

	if device == nil {
		return nil
	}

	// Called without d.mu: malgo invokes onStop synchronously from Stop
	err := device.Stop()
	device.Uninit()
	freeContext(ctx)

	if err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

// InputDevices lists the names of available capture devices
func InputDevices() ([]string, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	_ = ctx.Uninit()
	ctx.Free()
}
