package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return err
	}
	if c.Paths.AssetsDir, err = expandPath(c.Paths.AssetsDir); err != nil {
		return err
	}
	if c.Render.FontFile, err = expandPath(c.Render.FontFile); err != nil {
		return err
	}

	if strings.TrimSpace(c.Render.FFmpegBinary) == "" {
		c.Render.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(c.Render.FFprobeBinary) == "" {
		c.Render.FFprobeBinary = "ffprobe"
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaultLogFormat
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}

	normalizeProvider(&c.Providers.Script, "stub")
	normalizeProvider(&c.Providers.Image, "stub")
	normalizeProvider(&c.Providers.Voice, "stub")
	normalizeProvider(&c.Providers.Music, "local")
	normalizeProvider(&c.Providers.Video, "stub")

	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = defaultWorkers
	}
	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = defaultMaxAttempts
	}
	if c.Scheduler.BackoffBaseSeconds <= 0 {
		c.Scheduler.BackoffBaseSeconds = defaultBackoffBaseSeconds
	}
	if c.Scheduler.BackoffCapSeconds <= 0 {
		c.Scheduler.BackoffCapSeconds = defaultBackoffCapSeconds
	}
	if c.Scheduler.JobHardCeiling <= 0 {
		c.Scheduler.JobHardCeiling = defaultJobHardCeiling
	}
	if c.Scheduler.JobSoftCeiling <= 0 {
		c.Scheduler.JobSoftCeiling = defaultJobSoftCeiling
	}
	if c.Scheduler.QueuePollInterval <= 0 {
		c.Scheduler.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Scheduler.ErrorRetryInterval <= 0 {
		c.Scheduler.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	return nil
}

func normalizeProvider(p *Provider, fallbackMode string) {
	p.Mode = strings.ToLower(strings.TrimSpace(p.Mode))
	if p.Mode == "" {
		p.Mode = fallbackMode
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = defaultProviderTimeoutSeconds
	}
}
