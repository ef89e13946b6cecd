package server

import (
	"net/http"
	"strconv"
	"time"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring a Server instance.
type config struct {
	httpServer    *http.Server
	afterShutdown []func()
}

// EnvConfig defines fields used for parsing from environment variables.
type EnvConfig struct {
	Host         string        `env:"HOST" envDefault:"0.0.0.0"`
	Port         uint16        `env:"PORT" envDefault:"9000"`
	JWTSecret    string        `env:"JWT_SECRET,required"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	MediaDir     string        `env:"MEDIA_DIR" envDefault:"./storage/chat_media"`
	MediaBaseURL string        `env:"MEDIA_BASE_URL" envDefault:"/storage"`
}

// WithEnvConfig makes the parsed EnvConfig act as the source of address
// parameters for http.Server.
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
	})
}

// ReadTimeout sets read timeout for http.Server.
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server
// shutdown. f is not called in a separate goroutine.
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}
