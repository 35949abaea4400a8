package config

const (
	defaultBulkRoot = "~/.local/share/hanasu/videos"
	defaultWorkRoot = "~/.local/share/hanasu/data"

	defaultHardLimitGB       = 250
	defaultPauseThresholdGB  = 230
	defaultResumeThresholdGB = 200
	defaultCheckInterval     = 30
	defaultCacheDuration     = 5

	defaultDownloadConcurrency   = 5
	defaultTranscribeConcurrency = 2
	defaultMaxRetries            = 3
	defaultPollInterval          = 5
	defaultErrorRetryInterval    = 10
	defaultHeartbeatInterval     = 15
	defaultReapStaleAfter        = 300
	defaultShutdownGrace         = 30

	defaultDownloaderBinary  = "ani-cli"
	defaultFFmpegBinary      = "ffmpeg"
	defaultWhisperBinary     = "whisper"
	defaultWhisperModel      = "base"
	defaultLanguage          = "ja"
	defaultDownloadTimeout   = 1800
	defaultExtractTimeout    = 600
	defaultTranscribeTimeout = 3600

	defaultLogFormat = "auto"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			BulkRoot: defaultBulkRoot,
			WorkRoot: defaultWorkRoot,
		},
		Disk: Disk{
			HardLimitGB:          defaultHardLimitGB,
			PauseThresholdGB:     defaultPauseThresholdGB,
			ResumeThresholdGB:    defaultResumeThresholdGB,
			CheckIntervalSeconds: defaultCheckInterval,
			CacheDurationSeconds: defaultCacheDuration,
		},
		Workers: Workers{
			DownloadConcurrency:   defaultDownloadConcurrency,
			TranscribeConcurrency: defaultTranscribeConcurrency,
			MaxRetries:            defaultMaxRetries,
			PollIntervalSeconds:   defaultPollInterval,
			ErrorRetrySeconds:     defaultErrorRetryInterval,
			HeartbeatSeconds:      defaultHeartbeatInterval,
			ReapStaleAfterSeconds: defaultReapStaleAfter,
			ShutdownGraceSeconds:  defaultShutdownGrace,
		},
		Tools: Tools{
			Downloader:               defaultDownloaderBinary,
			FFmpeg:                   defaultFFmpegBinary,
			Whisper:                  defaultWhisperBinary,
			WhisperModel:             defaultWhisperModel,
			Language:                 defaultLanguage,
			DownloadTimeoutSeconds:   defaultDownloadTimeout,
			ExtractTimeoutSeconds:    defaultExtractTimeout,
			TranscribeTimeoutSeconds: defaultTranscribeTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
