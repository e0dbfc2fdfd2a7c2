package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyPlatformDefaults(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  Config
		env  map[string]string
		want Config
	}{
		{
			name: "Fallbacks",
			cfg:  Config{Addr: defaultAddr},
			env: map[string]string{
				"DATABASE_URL": "postgres://db/discounts",
				"REDIS_URL":    "redis://cache:6379/0",
				"PORT":         "9090",
			},
			want: Config{
				Addr:        "0.0.0.0:9090",
				DatabaseURL: "postgres://db/discounts",
				RedisURL:    "redis://cache:6379/0",
			},
		},
		{
			name: "ExplicitWins",
			cfg:  Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit", RedisURL: "redis://explicit"},
			env: map[string]string{
				"DATABASE_URL": "postgres://platform",
				"REDIS_URL":    "redis://platform",
				"PORT":         "9090",
			},
			want: Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit", RedisURL: "redis://explicit"},
		},
		{
			name: "MemoryMode",
			cfg:  Config{Addr: defaultAddr},
			env:  map[string]string{"DATABASE_URL": "", "REDIS_URL": "", "PORT": ""},
			want: Config{Addr: defaultAddr},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := tt.cfg
			cfg.applyPlatformDefaults()
			assert.Equal(t, tt.want, cfg)
		})
	}
}
