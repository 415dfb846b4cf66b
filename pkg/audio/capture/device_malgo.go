package capture

import (
	"github.com/gen2brain/malgo"
)

// malgoDevice binds the pipeline to a real microphone through miniaudio.
type malgoDevice struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device
}

func newMalgoDevice(p *Pipeline) (device, error) {
	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return nil, err
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(p.cfg.Channels)
	devCfg.SampleRate = uint32(p.cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = uint32(p.cfg.FrameDuration.Milliseconds())

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			p.ingest(input)
		},
	}
	dev, err := malgo.InitDevice(ctx.Context, devCfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return &malgoDevice{ctx: ctx, dev: dev}, nil
}

func (m *malgoDevice) start() error {
	return m.dev.Start()
}

func (m *malgoDevice) stop() error {
	return m.dev.Stop()
}

func (m *malgoDevice) release() {
	m.dev.Uninit()
	_ = m.ctx.Uninit()
	m.ctx.Free()
}
