package config

const (
	defaultDataDir              = "~/curator/data"
	defaultCacheDir             = "~/.cache/curator"
	defaultOutputDir            = "~/.cache/curator/output"
	defaultLogDir               = "~/.local/share/curator/logs"
	defaultAppName              = "curator"
	defaultPlatform             = "default"
	defaultWorkerBinary         = "curator-worker"
	defaultWorkerPollIntervalMS = 100
	defaultWorkerDrainTimeout   = 300
	defaultWorkerShutdownGrace  = 5
	defaultIgnoreFile           = ".curatorignore"
	defaultSidecarExtension     = ".asset"
	defaultCacheSaveInterval    = 60
	defaultWatchDebounceMS      = 250
	defaultAPIBind              = "127.0.0.1:7491"
	defaultEventBuffer          = 256
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogMaxSizeMB         = 50
	defaultLogMaxBackups        = 5
	defaultLogMaxAgeDays        = 30
	defaultNotifyTimeout        = 10
	maxWorkerCount              = 64
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDirs:  []string{defaultDataDir},
			CacheDir:  defaultCacheDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Project: Project{
			AppName:  defaultAppName,
			Platform: defaultPlatform,
		},
		Workers: Workers{
			Count:          defaultWorkerCount(),
			Binary:         defaultWorkerBinary,
			PollIntervalMS: defaultWorkerPollIntervalMS,
			DrainTimeout:   defaultWorkerDrainTimeout,
			ShutdownGrace:  defaultWorkerShutdownGrace,
		},
		Scanner: Scanner{
			Watch:             true,
			IgnoreFile:        defaultIgnoreFile,
			SidecarExtension:  defaultSidecarExtension,
			CacheSaveInterval: defaultCacheSaveInterval,
			WatchDebounceMS:   defaultWatchDebounceMS,
		},
		API: API{
			Bind:        defaultAPIBind,
			EventBuffer: defaultEventBuffer,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		AssetTypes: defaultAssetTypes(),
	}
}

func defaultAssetTypes() []AssetType {
	return []AssetType{
		{Name: "material", Extensions: []string{".mat"}, Thumbnail: true},
		{Name: "mesh", Extensions: []string{".obj", ".gltf", ".glb"}, Thumbnail: true},
		{Name: "texture", Extensions: []string{".png", ".tga", ".dds"}, Thumbnail: true},
		{Name: "sound", Extensions: []string{".wav", ".ogg"}},
		{Name: "scene", Extensions: []string{".scene"}, ManualTransformOnly: true, Thumbnail: true},
	}
}
