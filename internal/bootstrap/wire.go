package bootstrap

import (
	"log/slog"

	"watchrelay/internal/audio"
	"watchrelay/internal/capture"
	"watchrelay/internal/config"
	"watchrelay/internal/listener"
	"watchrelay/internal/ports"
	"watchrelay/internal/queue"
	"watchrelay/internal/relay"
	"watchrelay/internal/status"
	"watchrelay/internal/transport"
	"watchrelay/internal/usecase"
)

// Services is the assembled relay runtime graph.
type Services struct {
	Relay  *relay.Client
	Talk   *usecase.TalkController
	Remote *usecase.Remote
	// Status is nil when no status address is configured.
	Status *status.Server
	Config config.Config
}

// Build wires the relay, the microphone pipeline and the gesture adapter.
// Nothing is started; callers own Relay.Start and Relay.Close.
func Build(cfg config.Config, logger *slog.Logger) (Services, error) {
	dialer, err := transport.New(cfg.Relay.Address, transport.Options{
		DialTimeout:  cfg.Relay.DialTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
		ClientID:     cfg.Relay.MQTTClientID,
	})
	if err != nil {
		return Services{}, err
	}

	client := relay.NewClient(dialer, queue.New(cfg.Relay.QueueCapacity), logger, relay.Config{
		Handshake: cfg.Relay.Handshake,
		Backoff:   cfg.Relay.Backoff,
		Policy:    cfg.Relay.AdmissionPolicy(),
	})

	pipeline := capture.NewPipeline(
		audio.NewFFMPEGCapture(recorderOptions(cfg.Audio)),
		client,
		logger,
		capture.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			ChunkSize: cfg.Audio.ChunkSize,
		},
	)

	services := Services{
		Relay:  client,
		Talk:   usecase.NewTalkController(pipeline, logger, 0),
		Remote: usecase.NewRemote(client),
		Config: cfg,
	}
	if cfg.Status.Addr != "" {
		services.Status = status.NewServer(client, logger)
	}
	return services, nil
}

func recorderOptions(cfg config.AudioConfig) audio.FFMPEGOptions {
	return audio.FFMPEGOptions{
		Command:       cfg.RecorderCommand,
		StartupWindow: cfg.StartupWindow,
		StopGrace:     cfg.StopGrace,
	}
}

// ListenerServices is the assembled receiver runtime graph.
type ListenerServices struct {
	Server *listener.Server
	// Recorder is nil when no recording directory is configured.
	Recorder *listener.WAVRecorder
	Config   config.Config
}

// BuildListener wires the receiving end of the protocol.
func BuildListener(cfg config.Config, logger *slog.Logger) (ListenerServices, error) {
	sinks := listener.MultiSink{listener.NewLogSink(logger)}

	var recorder *listener.WAVRecorder
	if cfg.Listener.RecordDir != "" {
		var err error
		recorder, err = listener.NewWAVRecorder(cfg.Listener.RecordDir, cfg.Audio.SampleRate, cfg.Audio.Channels, logger)
		if err != nil {
			return ListenerServices{}, err
		}
		sinks = append(sinks, recorder)
	}

	return ListenerServices{
		Server:   listener.NewServer(sinks, logger, listener.WithHandshake(cfg.Relay.Handshake)),
		Recorder: recorder,
		Config:   cfg,
	}, nil
}
