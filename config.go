package rtspcamtest

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// StreamVariant names one of the pre-provisioned camera streams. The GOST
// camera serves h264 on channel 1 and h265 on channel 2 unless someone has
// changed it (somewhat likely unfortunately).
type StreamVariant string

const (
	StreamH264 StreamVariant = "h264"
	StreamH265 StreamVariant = "h265"
)

const defaultCameraPort = "554"

// EnvConfig holds everything the harness reads from the process environment.
// It is loaded once in main and passed by value; nothing else reads env vars.
type EnvConfig struct {
	APIKey         string
	APIKeyID       string
	PartID         string
	MachineAddress string

	// ONVIF-credential address scheme.
	ONVIFUsername string
	ONVIFPassword string
	CameraIP      string
	CameraPort    string

	// Pre-resolved per-codec address scheme.
	RTSPAddressH264 string
	RTSPAddressH265 string
}

// LoadEnvConfig reads a .env file if one exists, then the process
// environment. Only the credentials and part addressing are required;
// address-scheme selection happens in AddressResolver.
func LoadEnvConfig() (EnvConfig, error) {
	// A missing .env is fine; the variables may be set directly.
	_ = godotenv.Load()

	cfg := EnvConfig{
		APIKey:          os.Getenv("API_KEY"),
		APIKeyID:        os.Getenv("API_KEY_ID"),
		PartID:          os.Getenv("PART_ID"),
		MachineAddress:  os.Getenv("MACHINE_ADDRESS"),
		ONVIFUsername:   os.Getenv("ONVIF_USERNAME"),
		ONVIFPassword:   os.Getenv("ONVIF_PASSWORD"),
		CameraIP:        os.Getenv("CAMERA_IP"),
		CameraPort:      os.Getenv("CAMERA_PORT"),
		RTSPAddressH264: os.Getenv("RTSP_ADDRESS_H264"),
		RTSPAddressH265: os.Getenv("RTSP_ADDRESS_H265"),
	}
	if cfg.CameraPort == "" {
		cfg.CameraPort = defaultCameraPort
	}

	for _, required := range []struct {
		name, value string
	}{
		{"API_KEY", cfg.APIKey},
		{"API_KEY_ID", cfg.APIKeyID},
		{"PART_ID", cfg.PartID},
		{"MACHINE_ADDRESS", cfg.MachineAddress},
	} {
		if required.value == "" {
			return EnvConfig{}, fmt.Errorf("%s is required", required.name)
		}
	}
	return cfg, nil
}

// AddressResolver picks the address scheme the environment supports: ONVIF
// credentials when the camera IP is set, otherwise pre-resolved per-codec
// addresses.
func (c EnvConfig) AddressResolver() (AddressResolver, error) {
	if c.CameraIP != "" {
		if c.ONVIFUsername == "" || c.ONVIFPassword == "" {
			return nil, fmt.Errorf("CAMERA_IP is set but ONVIF_USERNAME/ONVIF_PASSWORD are not")
		}
		return &ONVIFAddressResolver{
			Username: c.ONVIFUsername,
			Password: c.ONVIFPassword,
			IP:       c.CameraIP,
			Port:     c.CameraPort,
		}, nil
	}
	if c.RTSPAddressH264 != "" || c.RTSPAddressH265 != "" {
		return &StaticAddressResolver{Addresses: map[StreamVariant]string{
			StreamH264: c.RTSPAddressH264,
			StreamH265: c.RTSPAddressH265,
		}}, nil
	}
	return nil, fmt.Errorf("no camera addressing configured: set CAMERA_IP with ONVIF credentials, or RTSP_ADDRESS_H264/RTSP_ADDRESS_H265")
}

// AddressResolver maps a stream variant to the RTSP address the camera
// component should be configured with.
type AddressResolver interface {
	Resolve(variant StreamVariant) (string, error)
}

// ONVIFAddressResolver builds addresses from ONVIF credentials and the
// camera's realmonitor URL template, one channel per variant.
type ONVIFAddressResolver struct {
	Username string
	Password string
	IP       string
	Port     string
}

func (r *ONVIFAddressResolver) Resolve(variant StreamVariant) (string, error) {
	channel, err := channelFor(variant)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rtsp://%s:%s@%s:%s/cam/realmonitor?channel=%d&subtype=0",
		r.Username, r.Password, r.IP, r.Port, channel), nil
}

func channelFor(variant StreamVariant) (int, error) {
	switch variant {
	case StreamH264:
		return 1, nil
	case StreamH265:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStreamVariant, variant)
	}
}

// StaticAddressResolver serves addresses resolved ahead of time, one per
// variant.
type StaticAddressResolver struct {
	Addresses map[StreamVariant]string
}

func (r *StaticAddressResolver) Resolve(variant StreamVariant) (string, error) {
	addr, ok := r.Addresses[variant]
	if !ok || addr == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownStreamVariant, variant)
	}
	return addr, nil
}
