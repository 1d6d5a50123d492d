package config

import (
	"io/ioutil"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChannel          = "drivenet"
	DefaultContract         = "fabcar"
	DefaultAccessTokenTTL   = 900 * time.Second
	DefaultRefreshTokenTTL  = 72 * time.Hour
	DefaultSessionCacheSize = 256
)

type DriveNetConfig struct {
	Network Network `yaml:"network"`
	Auth    Auth    `yaml:"auth"`
	Wallet  Wallet  `yaml:"wallet"`
	UI      UI      `yaml:"ui"`
}

type Network struct {
	Channel  string `yaml:"channel"`
	Contract string `yaml:"contract"`
	// Organization is the org name from the connection profile used for CA enrollment.
	Organization string `yaml:"organization"`
	CA           string `yaml:"ca"`
	// ProbeUser is an identity already present in the SDK credential store,
	// used by the readiness probe to query the channel height.
	ProbeUser string `yaml:"probeUser"`
}

type Auth struct {
	SigningSecret   string        `yaml:"signingSecret"`
	HashSalt        string        `yaml:"hashSalt"`
	AccessTokenTTL  time.Duration `yaml:"accessTokenTTL"`
	RefreshTokenTTL time.Duration `yaml:"refreshTokenTTL"`
}

type Wallet struct {
	Path             string `yaml:"path"`
	SessionCacheSize int    `yaml:"sessionCacheSize"`
}

type UI struct {
	Dir string `yaml:"dir"`
}

// envOverrides are read from DRIVENET_* variables and win over the file.
type envOverrides struct {
	SigningSecret string `envconfig:"SIGNING_SECRET"`
	HashSalt      string `envconfig:"HASH_SALT"`
	WalletPath    string `envconfig:"WALLET_PATH"`
	UIDir         string `envconfig:"UI_DIR"`
	Channel       string `envconfig:"CHANNEL"`
	Contract      string `envconfig:"CONTRACT"`
}

func Load(path string) (*DriveNetConfig, error) {
	contents, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(contents)
}

func Parse(contents []byte) (*DriveNetConfig, error) {
	cfg := &DriveNetConfig{}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *DriveNetConfig) applyEnv() error {
	env := envOverrides{}
	if err := envconfig.Process("drivenet", &env); err != nil {
		return errors.Wrap(err, "failed to read environment")
	}
	override(&c.Auth.SigningSecret, env.SigningSecret)
	override(&c.Auth.HashSalt, env.HashSalt)
	override(&c.Wallet.Path, env.WalletPath)
	override(&c.UI.Dir, env.UIDir)
	override(&c.Network.Channel, env.Channel)
	override(&c.Network.Contract, env.Contract)
	return nil
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func (c *DriveNetConfig) setDefaults() {
	if c.Network.Channel == "" {
		c.Network.Channel = DefaultChannel
	}
	if c.Network.Contract == "" {
		c.Network.Contract = DefaultContract
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.Wallet.SessionCacheSize <= 0 {
		c.Wallet.SessionCacheSize = DefaultSessionCacheSize
	}
}

func (c *DriveNetConfig) Validate() error {
	switch {
	case c.Auth.SigningSecret == "":
		return errors.New("auth.signingSecret is required")
	case c.Auth.HashSalt == "":
		return errors.New("auth.hashSalt is required")
	case c.Network.Organization == "":
		return errors.New("network.organization is required")
	case c.Network.CA == "":
		return errors.New("network.ca is required")
	case c.Wallet.Path == "":
		return errors.New("wallet.path is required")
	}
	return nil
}
