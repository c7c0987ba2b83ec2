package config

// Default returns the configuration used when no file is given.
func Default() Config {
	console := true
	retryMax := 3
	return Config{
		Identity: Identity{IDLength: 4},
		Log:      Log{Level: "info", Console: &console},
		Server:   Server{Addr: ":8080", MetricsPath: "/metrics"},
		Store:    Store{Backend: StoreMemory, BoltPath: "copus-marks.db"},
		Events:   Events{Backend: EventsHub, RedisAddr: "localhost:6379", ChannelPrefix: "copus:marks:"},
		Client:   Client{BaseURL: "http://localhost:8080", RetryMax: &retryMax},
	}
}
