package xredis

import (
	"time"
)

// Config describes the redis instance backing the shared cache tier.
type Config struct {
	Addr                  string        `conf:"addr" yaml:"addr" json:"addr"`
	URL                   string        `conf:"url" yaml:"url" json:"url"`
	Username              string        `conf:"username" yaml:"username" json:"username"`
	Password              string        `conf:"password" yaml:"-" json:"-"`
	DB                    *int          `conf:"db" yaml:"db" json:"db"`
	TLS                   bool          `conf:"tls" yaml:"tls" json:"tls"`
	TLSInsecureSkipVerify bool          `conf:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify" json:"tls_insecure_skip_verify"`
	KeyPrefix             string        `conf:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	Expiration            time.Duration `conf:"expiration" yaml:"expiration" json:"expiration"`
	DialTimeout           time.Duration `conf:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
}

// Enabled reports whether an address was configured.
func (c Config) Enabled() bool {
	return c.Addr != "" || c.URL != ""
}
