package config

type AppConfig struct {
	APIPort string `env:"PORT" envDefault:"8420"`
	DataDir string `env:"DATA_DIR" envDefault:"/data"`
	DBPath  string `env:"DB_PATH" envDefault:"/data/mailsweep.db"`
	// WorkerBinary overrides the executable used for sibling worker
	// processes; defaults to the running binary.
	WorkerBinary string `env:"WORKER_BINARY"`
}

type AnthropicConfig struct {
	URL       string `env:"ANTHROPIC_URL" envDefault:"https://api.anthropic.com"`
	Version   string `env:"ANTHROPIC_VERSION" envDefault:"2023-06-01"`
	Model     string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-5"`
	MaxTokens int    `env:"ANTHROPIC_MAX_TOKENS" envDefault:"4096"`
}
