package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"aricall/ari"

	"github.com/caarlos0/env/v11"
	ini "gopkg.in/ini.v1"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	ariHost     string
	ariPort     int
	ariSecure   bool
	ariUser     string
	ariPassword string
	application string
	reconnect   int

	greeting          string
	language          string
	ringTime          int
	record            bool
	recordFormat      string
	maxRecordSeconds  int
	maxSilenceSeconds int
	operatorURI       string
	callerID          string

	cdrDatabase     string
	tracingEndpoint string
}

// envOverrides are secrets and deployment specifics that may come from the
// environment instead of settings.ini.
type envOverrides struct {
	ARIHost         string `env:"ARICALL_ARI_HOST"`
	ARIUser         string `env:"ARICALL_ARI_USER"`
	ARIPassword     string `env:"ARICALL_ARI_PASSWORD"`
	CDRDatabase     string `env:"ARICALL_CDR_DATABASE"`
	TracingEndpoint string `env:"ARICALL_OTEL_ENDPOINT"`
}

// LoadSettings reads configuration from ini file, applies environment
// overrides and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("ari")
	s.ariHost = sec.Key("host").MustString("localhost")
	s.ariPort = sec.Key("port").MustInt(8088)
	s.ariSecure = sec.Key("secure").MustBool(false)
	s.ariUser = sec.Key("user").String()
	s.ariPassword = sec.Key("password").String()
	s.application = sec.Key("application").MustString("aricall")
	s.reconnect = sec.Key("reconnect_time").MustInt(0)

	sec = cfg.Section("app")
	s.greeting = sec.Key("greeting").MustString("sound:hello-world")
	s.language = sec.Key("language").String()
	s.ringTime = sec.Key("ring_time").MustInt(2)
	s.record = sec.Key("record").MustBool(true)
	s.recordFormat = sec.Key("record_format").MustString("wav")
	s.maxRecordSeconds = sec.Key("max_record_seconds").MustInt(60)
	s.maxSilenceSeconds = sec.Key("max_silence_seconds").MustInt(5)
	s.operatorURI = sec.Key("operator_uri").String()
	s.callerID = sec.Key("caller_id").String()

	s.cdrDatabase = cfg.Section("cdr").Key("database").MustString("aricall.db")
	s.tracingEndpoint = cfg.Section("tracing").Key("endpoint").String()

	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if o.ARIHost != "" {
		s.ariHost = o.ARIHost
	}
	if o.ARIUser != "" {
		s.ariUser = o.ARIUser
	}
	if o.ARIPassword != "" {
		s.ariPassword = o.ARIPassword
	}
	if o.CDRDatabase != "" {
		s.cdrDatabase = o.CDRDatabase
	}
	if o.TracingEndpoint != "" {
		s.tracingEndpoint = o.TracingEndpoint
	}

	if s.ariUser == "" || s.application == "" {
		return nil, fmt.Errorf("ari user and application must be set")
	}
	if s.ringTime < 0 {
		return nil, fmt.Errorf("ring_time must not be negative")
	}

	return s, nil
}

// ARIBaseURL is the Asterisk HTTP server address.
func (s *Settings) ARIBaseURL() string {
	scheme := "http"
	if s.ariSecure {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(s.ariHost, strconv.Itoa(s.ariPort))
}

func (s *Settings) ARIUser() string     { return s.ariUser }
func (s *Settings) ARIPassword() string { return s.ariPassword }
func (s *Settings) Application() string { return s.application }

func (s *Settings) ReconnectTime() time.Duration {
	return time.Duration(s.reconnect) * time.Second
}

func (s *Settings) Greeting() string     { return s.greeting }
func (s *Settings) Language() string     { return s.language }
func (s *Settings) Record() bool         { return s.record }
func (s *Settings) RecordFormat() string { return s.recordFormat }
func (s *Settings) OperatorURI() string  { return s.operatorURI }
func (s *Settings) CallerID() string     { return s.callerID }

func (s *Settings) RingTime() time.Duration {
	return time.Duration(s.ringTime) * time.Second
}

// MaxRecordSeconds and MaxSilenceSeconds return ari.Omit when unlimited.
func (s *Settings) MaxRecordSeconds() int  { return limit(s.maxRecordSeconds) }
func (s *Settings) MaxSilenceSeconds() int { return limit(s.maxSilenceSeconds) }

func (s *Settings) CDRDatabase() string     { return s.cdrDatabase }
func (s *Settings) TracingEndpoint() string { return s.tracingEndpoint }

func limit(v int) int {
	if v <= 0 {
		return ari.Omit
	}
	return v
}
