package config

import (
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Server struct {
		Port   int    `env:"PORT" envDefault:"8420"`
		Origin string `env:"SHELL_ORIGIN" envDefault:"http://localhost:3000"`
	}

	Miner struct {
		AutoClaim   bool `env:"AUTO_CLAIM" envDefault:"true"`
		NotifyReady bool `env:"NOTIFY_READY" envDefault:"true"`
	}

	Browser struct {
		Headless      bool   `env:"BROWSER_HEADLESS" envDefault:"true"`
		ExecPath      string `env:"BROWSER_EXEC_PATH" envDefault:""`
		UserDataDir   string `env:"BROWSER_USER_DATA_DIR" envDefault:""`
		ImportCookies bool   `env:"BROWSER_IMPORT_COOKIES" envDefault:"true"`
	}

	Twitch struct {
		Enabled     bool   `env:"TWITCH_ENABLED" envDefault:"true"`
		GQLEndpoint string `env:"TWITCH_GQL_ENDPOINT" envDefault:"https://gql.twitch.tv/gql"`
		DropsURL    string `env:"TWITCH_DROPS_URL" envDefault:"https://www.twitch.tv/drops/campaigns"`
	}

	Kick struct {
		Enabled        bool   `env:"KICK_ENABLED" envDefault:"true"`
		FeedURL        string `env:"KICK_FEED_URL" envDefault:"https://kick.com/api/v1/drops/campaigns"`
		DropsURL       string `env:"KICK_DROPS_URL" envDefault:"https://kick.com/drops"`
		ProgressMarker string `env:"KICK_PROGRESS_MARKER" envDefault:"/drops/progress"`
	}

	Store struct {
		Dir string `env:"STORE_DIR" envDefault:"./data"`
	}
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		// Environment variables may be set directly in production;
		// a missing .env file is not an error.
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		panic(err)
	}

	return cfg
}
