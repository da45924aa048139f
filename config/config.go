package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds the backend proxy configuration.
type Config struct {
	Backend BackendConfig
}

// BackendConfig configures the demo binary's connection to a MariaDB
// backend cluster: which server to dial, how to authenticate against
// it, and how long to wait for network operations.
type BackendConfig struct {
	Primary  string   // Primary database address
	Replicas []string // Read replica addresses

	User     string
	Password string
	Database string

	DialTimeout time.Duration
	TLSMode     string // "disabled", "preferred", "required"

	// ProxyProtocol prepends a PROXY protocol v1 header to the backend
	// connection, announcing the original client address.
	ProxyProtocol bool

	// AuthPlugins lists the auth plugin names this proxy is willing to
	// speak, in preference order. Empty means "mysql_native_password
	// only".
	AuthPlugins []string
}

// Load reads configuration from an INI file with environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	sec := cfg.Section("backend")

	config := &Config{
		Backend: BackendConfig{
			Primary:       sec.Key("primary").MustString("127.0.0.1:3306"),
			Replicas:      loadReplicas(sec),
			User:          sec.Key("user").MustString("root"),
			Password:      sec.Key("password").MustString(""),
			Database:      sec.Key("database").MustString(""),
			DialTimeout:   sec.Key("dial_timeout").MustDuration(5 * time.Second),
			TLSMode:       sec.Key("tls_mode").MustString("disabled"),
			ProxyProtocol: sec.Key("proxy_protocol").MustBool(false),
			AuthPlugins:   sec.Key("auth_plugins").Strings(","),
		},
	}

	if v := os.Getenv("MXBACKEND_PRIMARY"); v != "" {
		config.Backend.Primary = v
	}
	if v := os.Getenv("MXBACKEND_USER"); v != "" {
		config.Backend.User = v
	}
	if v := os.Getenv("MXBACKEND_PASSWORD"); v != "" {
		config.Backend.Password = v
	}
	if v := os.Getenv("MXBACKEND_TLS_MODE"); v != "" {
		config.Backend.TLSMode = v
	}

	return config, nil
}

func loadReplicas(sec *ini.Section) []string {
	var replicas []string
	for i := 1; i <= 10; i++ { // Support up to 10 replicas
		keyName := "replica" + strconv.Itoa(i)
		replica := sec.Key(keyName).String()
		if replica != "" {
			replicas = append(replicas, replica)
		}
	}
	return replicas
}
