package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

type Configuration struct {
	ReportDir         string     `json:"reportDir" validate:"required"`
	DatabaseFile      string     `json:"databaseFile" validate:"required"`
	CacheFile         string     `json:"cacheFile" validate:"required"`
	DNSServer         string     `json:"dnsServer" validate:"omitempty,hostname_port"`
	DNSConnectTimeout Duration   `json:"dnsConnectTimeout"`
	DNSTimeout        Duration   `json:"dnsTimeout"`
	GeoIPDatabase     string     `json:"geoipDatabase" validate:"omitempty,file"`
	Watch             bool       `json:"watch"`
	ImapConfig        IMAPConfig `json:"imap"`
}

type IMAPConfig struct {
	Host       string   `json:"host" validate:"omitempty,hostname_port"`
	SSL        bool     `json:"ssl"`
	User       string   `json:"user"`
	Pass       string   `json:"pass"`
	Folder     string   `json:"folder"`
	IgnoreCert bool     `json:"ignoreCert"`
	Delete     bool     `json:"delete"`
	Timeout    Duration `json:"timeout"`
}

// Enabled reports whether mailbox fetching is configured.
func (c IMAPConfig) Enabled() bool {
	return c.Host != ""
}

func GetConfig(defaults Configuration, f string) (*Configuration, error) {
	if f == "" {
		return nil, fmt.Errorf("please provide a valid config file")
	}

	b, err := os.ReadFile(f) // nolint: gosec
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(b, &defaults); err != nil {
		return nil, err
	}

	if err := Validate(&defaults); err != nil {
		return nil, err
	}

	return &defaults, nil
}

func Validate(c *Configuration) error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
