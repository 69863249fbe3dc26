package gxserialbridge

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Gurux/gxcommon-go"
	"gopkg.in/yaml.v3"
)

// Default values shared by the bridge roles.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultMaxClients           = 10
	DefaultBaudRate             = 9600
	DefaultDataBits             = 8
	DefaultAcceptRate           = 10
)

// KeepAlive holds the TCP keepalive probe settings requested for the client
// connection. Options the platform does not support are omitted.
type KeepAlive struct {
	Idle     time.Duration `yaml:"idle"`
	Interval time.Duration `yaml:"interval"`
	Count    int           `yaml:"count"`
}

// ClientConfig configures the client role.
type ClientConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// DevicePath is the optional stable path published as a symlink to the
	// pseudo-terminal slave.
	DevicePath           string        `yaml:"device"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	KeepAlive            KeepAlive     `yaml:"keepalive"`
	PollTimeout          time.Duration `yaml:"poll_timeout"`
	StopTimeout          time.Duration `yaml:"stop_timeout"`
	RestartTimeout       time.Duration `yaml:"restart_timeout"`
	Verbose              bool          `yaml:"verbose"`
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectDelay:    DefaultMaxReconnectDelay,
		ConnectTimeout:       DefaultConnectTimeout,
		KeepAlive: KeepAlive{
			Idle:     30 * time.Second,
			Interval: 5 * time.Second,
			Count:    3,
		},
		PollTimeout:    500 * time.Millisecond,
		StopTimeout:    3 * time.Second,
		RestartTimeout: 2 * time.Second,
	}
}

// Address returns host:port of the remote listener.
func (c ClientConfig) Address() string {
	return joinHostPort(c.Host, c.Port)
}

// Validate checks the client settings.
func (c ClientConfig) Validate() error {
	if c.Host == "" {
		return &ConfigurationError{Field: "server host", Err: errors.New("host is required")}
	}
	if err := validatePort("server port", c.Port); err != nil {
		return err
	}
	if c.DevicePath != "" {
		if err := ValidateDevicePath(c.DevicePath); err != nil {
			return err
		}
	}
	if c.MaxReconnectAttempts < 0 {
		return &ConfigurationError{Field: "max reconnect attempts", Value: c.MaxReconnectAttempts, Err: errors.New("must not be negative")}
	}
	if c.ReconnectDelay <= 0 || c.MaxReconnectDelay <= 0 {
		return &ConfigurationError{Field: "reconnect delay", Value: c.ReconnectDelay, Err: errors.New("must be positive")}
	}
	if c.ConnectTimeout <= 0 {
		return &ConfigurationError{Field: "connect timeout", Value: c.ConnectTimeout, Err: errors.New("must be positive")}
	}
	return nil
}

// SerialSettings are handed to the OS serial driver; they are not
// interpreted by the relay.
type SerialSettings struct {
	BaudRate gxcommon.BaudRate
	DataBits int
	Parity   gxcommon.Parity
	StopBits gxcommon.StopBits
}

// ServerConfig configures the server role.
type ServerConfig struct {
	SerialPort  string `yaml:"serial_port"`
	NetworkPort int    `yaml:"network_port"`
	// ListenHost restricts the listener to one interface; empty means all.
	ListenHost string `yaml:"listen_host"`
	BaudRate   int    `yaml:"baudrate"`
	DataBits   int    `yaml:"databits"`
	// Parity is one of N, E, O, M, S.
	Parity string `yaml:"parity"`
	// StopBits is one of 1, 1.5, 2.
	StopBits string `yaml:"stopbits"`
	// Timeout bounds how long a write to the serial port may wait for
	// output readiness.
	Timeout           time.Duration `yaml:"timeout"`
	MaxClients        int           `yaml:"max_clients"`
	AcceptRate        float64       `yaml:"accept_rate"`
	Greeting          bool          `yaml:"greeting"`
	AcceptTimeout     time.Duration `yaml:"accept_timeout"`
	PeerPollTimeout   time.Duration `yaml:"peer_poll_timeout"`
	SerialPollTimeout time.Duration `yaml:"serial_poll_timeout"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
	Verbose           bool          `yaml:"verbose"`
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BaudRate:          DefaultBaudRate,
		DataBits:          DefaultDataBits,
		Parity:            "N",
		StopBits:          "1",
		Timeout:           time.Second,
		MaxClients:        DefaultMaxClients,
		AcceptRate:        DefaultAcceptRate,
		Greeting:          true,
		AcceptTimeout:     time.Second,
		PeerPollTimeout:   100 * time.Millisecond,
		SerialPollTimeout: 100 * time.Millisecond,
		StopTimeout:       2 * time.Second,
	}
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return joinHostPort(c.ListenHost, c.NetworkPort)
}

// Validate checks the server settings.
func (c ServerConfig) Validate() error {
	if c.SerialPort == "" {
		return &ConfigurationError{Field: "serial port", Err: errors.New("serial port is required")}
	}
	if err := validatePort("network port", c.NetworkPort); err != nil {
		return err
	}
	if _, err := c.SerialSettings(); err != nil {
		return err
	}
	if c.MaxClients <= 0 {
		return &ConfigurationError{Field: "max clients", Value: c.MaxClients, Err: errors.New("must be positive")}
	}
	if c.Timeout < 0 {
		return &ConfigurationError{Field: "timeout", Value: c.Timeout, Err: errors.New("must not be negative")}
	}
	return nil
}

// SerialSettings converts the textual serial options to their typed form.
func (c ServerConfig) SerialSettings() (SerialSettings, error) {
	var s SerialSettings
	if c.BaudRate <= 0 {
		return s, &ConfigurationError{Field: "baudrate", Value: c.BaudRate, Err: gxcommon.ErrInvalidArgument}
	}
	s.BaudRate = gxcommon.BaudRate(c.BaudRate)
	if c.DataBits < 5 || c.DataBits > 8 {
		return s, &ConfigurationError{Field: "databits", Value: c.DataBits, Err: gxcommon.ErrInvalidArgument}
	}
	s.DataBits = c.DataBits
	var err error
	if s.Parity, err = ParseParity(c.Parity); err != nil {
		return s, err
	}
	if s.StopBits, err = ParseStopBits(c.StopBits); err != nil {
		return s, err
	}
	return s, nil
}

// EchoConfig configures the loopback echo peer.
type EchoConfig struct {
	DevicePath string `yaml:"device"`
	// BaudRate only labels the device; it is not enforced.
	BaudRate    int           `yaml:"baudrate"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	Verbose     bool          `yaml:"verbose"`
}

// DefaultEchoConfig returns the echo defaults.
func DefaultEchoConfig() EchoConfig {
	return EchoConfig{
		BaudRate:    DefaultBaudRate,
		PollTimeout: 100 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	}
}

// Validate checks the echo settings.
func (c EchoConfig) Validate() error {
	if c.DevicePath == "" {
		return &ConfigurationError{Field: "device path", Err: errors.New("device path is required")}
	}
	if c.BaudRate <= 0 {
		return &ConfigurationError{Field: "baudrate", Value: c.BaudRate, Err: gxcommon.ErrInvalidArgument}
	}
	return ValidateDevicePath(c.DevicePath)
}

// ParseParity maps the single-letter parity names N, E, O, M and S.
func ParseParity(value string) (gxcommon.Parity, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "N", "":
		return gxcommon.ParityNone, nil
	case "E":
		return gxcommon.ParityEven, nil
	case "O":
		return gxcommon.ParityOdd, nil
	case "M":
		return gxcommon.ParityMark, nil
	case "S":
		return gxcommon.ParitySpace, nil
	}
	return gxcommon.ParityNone, &ConfigurationError{Field: "parity", Value: value, Err: gxcommon.ErrInvalidArgument}
}

// ParseStopBits accepts 1, 1.5 and 2. POSIX termios has no 1.5 stop bit
// setting; it is mapped to two stop bits, as the serial drivers do.
func ParseStopBits(value string) (gxcommon.StopBits, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return gxcommon.StopBitsOne, &ConfigurationError{Field: "stopbits", Value: value, Err: gxcommon.ErrInvalidArgument}
	}
	switch f {
	case 1:
		return gxcommon.StopBitsOne, nil
	case 1.5, 2:
		return gxcommon.StopBitsTwo, nil
	}
	return gxcommon.StopBitsOne, &ConfigurationError{Field: "stopbits", Value: value, Err: gxcommon.ErrInvalidArgument}
}

// LoadConfigFile decodes a YAML file into cfg. Fields absent from the file
// keep their current values.
func LoadConfigFile(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigurationError{Field: "config file", Value: path, Err: err}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &ConfigurationError{Field: "config file", Value: path, Err: err}
	}
	return nil
}

func validatePort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return &ConfigurationError{Field: field, Value: port, Err: errors.New("must be in 1..65535")}
	}
	return nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
