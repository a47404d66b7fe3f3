package config

const (
	defaultDataDir   = "~/.local/share/kurz"
	defaultWorkDir   = "~/.local/share/kurz/work"
	defaultOutputDir = "~/.local/share/kurz/outputs"
	defaultAssetsDir = "~/.local/share/kurz/assets"

	defaultWidth           = 1080
	defaultHeight          = 1920
	defaultFPS             = 30
	defaultVideoCodec      = "libx264"
	defaultAudioCodec      = "aac"
	defaultPreset          = "fast"
	defaultCRF             = 22
	defaultBGMVolume       = 0.3
	defaultTitleFontSize   = 72
	defaultCaptionFontSize = 48

	defaultWorkers            = 4
	defaultMaxAttempts        = 3
	defaultBackoffBaseSeconds = 2
	defaultBackoffCapSeconds  = 600
	defaultJobHardCeiling     = 3600
	defaultJobSoftCeiling     = 3000
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10

	defaultProviderTimeoutSeconds = 120
	defaultNotifyRequestTimeout   = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			AssetsDir: defaultAssetsDir,
		},
		Render: Render{
			Width:           defaultWidth,
			Height:          defaultHeight,
			FPS:             defaultFPS,
			VideoCodec:      defaultVideoCodec,
			AudioCodec:      defaultAudioCodec,
			Preset:          defaultPreset,
			CRF:             defaultCRF,
			BGMVolume:       defaultBGMVolume,
			TitleFontSize:   defaultTitleFontSize,
			CaptionFontSize: defaultCaptionFontSize,
			FFmpegBinary:    "ffmpeg",
			FFprobeBinary:   "ffprobe",
		},
		Providers: Providers{
			Script: Provider{Mode: "stub", TimeoutSeconds: defaultProviderTimeoutSeconds},
			Image:  Provider{Mode: "stub", TimeoutSeconds: defaultProviderTimeoutSeconds},
			Voice:  Provider{Mode: "stub", TimeoutSeconds: defaultProviderTimeoutSeconds},
			Music:  Provider{Mode: "local", TimeoutSeconds: defaultProviderTimeoutSeconds},
			Video:  Provider{Mode: "stub", TimeoutSeconds: defaultProviderTimeoutSeconds},
		},
		Scheduler: Scheduler{
			Workers:            defaultWorkers,
			MaxAttempts:        defaultMaxAttempts,
			BackoffBaseSeconds: defaultBackoffBaseSeconds,
			BackoffCapSeconds:  defaultBackoffCapSeconds,
			JobHardCeiling:     defaultJobHardCeiling,
			JobSoftCeiling:     defaultJobSoftCeiling,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
