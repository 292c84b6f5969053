package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical guide defaults file.
const DefaultConfigPath = "config/guide.defaults.json"

// GuideConfig is the root runtime configuration. Every field is optional;
// the Get* methods supply defaults for anything omitted.
type GuideConfig struct {
	// Map plane and grid
	MapWidth       *int `json:"map_width,omitempty"`
	MapHeight      *int `json:"map_height,omitempty"`
	CellSize       *int `json:"cell_size,omitempty"`
	FirePaddingPx  *int `json:"fire_padding_px,omitempty"`
	LookaheadIndex *int `json:"lookahead_index,omitempty"`

	// Processing loop
	CycleInterval  *string `json:"cycle_interval,omitempty"` // duration string like "100ms"
	RestoreLock    *bool   `json:"restore_lock,omitempty"`
	RecorderBuffer *int    `json:"recorder_buffer,omitempty"`

	// Inputs
	LayoutPath   *string `json:"layout_path,omitempty"`
	ScenarioPath *string `json:"scenario_path,omitempty"`
	CameraURL    *string `json:"camera_url,omitempty"`

	// Outputs
	ListenAddr *string `json:"listen_addr,omitempty"`
	GRPCAddr   *string `json:"grpc_addr,omitempty"`
	SerialPort *string `json:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	// PostgresDSN, when set, sends recorder events to Postgres instead of
	// the local SQLite file.
	PostgresDSN *string `json:"postgres_dsn,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyGuideConfig returns a GuideConfig with all fields set to nil.
func EmptyGuideConfig() *GuideConfig {
	return &GuideConfig{}
}

// LoadGuideConfig loads a GuideConfig from a JSON file.
// The file must have a .json extension and be at most 1MB. Fields omitted
// from the file fall back to their defaults, so partial configs are safe.
func LoadGuideConfig(path string) (*GuideConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyGuideConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *GuideConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/guide/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadGuideConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks field ranges and that the grid has at least one cell.
func (c *GuideConfig) Validate() error {
	for name, v := range map[string]*int{
		"map_width":  c.MapWidth,
		"map_height": c.MapHeight,
		"cell_size":  c.CellSize,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.GetMapWidth()/c.GetCellSize() == 0 || c.GetMapHeight()/c.GetCellSize() == 0 {
		return fmt.Errorf("cell_size %d leaves no cells on a %dx%d map",
			c.GetCellSize(), c.GetMapWidth(), c.GetMapHeight())
	}
	if c.FirePaddingPx != nil && *c.FirePaddingPx < 0 {
		return fmt.Errorf("fire_padding_px must be non-negative, got %d", *c.FirePaddingPx)
	}
	if c.LookaheadIndex != nil && (*c.LookaheadIndex < 1 || *c.LookaheadIndex > 64) {
		return fmt.Errorf("lookahead_index must be between 1 and 64, got %d", *c.LookaheadIndex)
	}
	if c.CycleInterval != nil && *c.CycleInterval != "" {
		d, err := time.ParseDuration(*c.CycleInterval)
		if err != nil {
			return fmt.Errorf("invalid cycle_interval '%s': %w", *c.CycleInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("cycle_interval must be non-negative, got %s", d)
		}
	}
	if c.RecorderBuffer != nil && *c.RecorderBuffer < 1 {
		return fmt.Errorf("recorder_buffer must be at least 1, got %d", *c.RecorderBuffer)
	}
	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}
	return nil
}

func (c *GuideConfig) GetMapWidth() int {
	if c.MapWidth == nil {
		return 640
	}
	return *c.MapWidth
}

func (c *GuideConfig) GetMapHeight() int {
	if c.MapHeight == nil {
		return 480
	}
	return *c.MapHeight
}

func (c *GuideConfig) GetCellSize() int {
	if c.CellSize == nil || *c.CellSize <= 0 {
		return 20
	}
	return *c.CellSize
}

func (c *GuideConfig) GetFirePaddingPx() int {
	if c.FirePaddingPx == nil {
		return 20
	}
	return *c.FirePaddingPx
}

func (c *GuideConfig) GetLookaheadIndex() int {
	if c.LookaheadIndex == nil {
		return 5
	}
	return *c.LookaheadIndex
}

func (c *GuideConfig) GetCycleInterval() time.Duration {
	if c.CycleInterval == nil || *c.CycleInterval == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CycleInterval)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

func (c *GuideConfig) GetRestoreLock() bool {
	if c.RestoreLock == nil {
		return true
	}
	return *c.RestoreLock
}

func (c *GuideConfig) GetRecorderBuffer() int {
	if c.RecorderBuffer == nil {
		return 256
	}
	return *c.RecorderBuffer
}

func (c *GuideConfig) GetLayoutPath() string {
	if c.LayoutPath == nil {
		return ""
	}
	return *c.LayoutPath
}

func (c *GuideConfig) GetScenarioPath() string {
	if c.ScenarioPath == nil {
		return ""
	}
	return *c.ScenarioPath
}

func (c *GuideConfig) GetCameraURL() string {
	if c.CameraURL == nil {
		return ""
	}
	return *c.CameraURL
}

func (c *GuideConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

func (c *GuideConfig) GetGRPCAddr() string {
	if c.GRPCAddr == nil {
		return ":50051"
	}
	return *c.GRPCAddr
}

func (c *GuideConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *GuideConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 115200
	}
	return *c.SerialBaud
}

func (c *GuideConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "exitguide.db"
	}
	return *c.DBPath
}

func (c *GuideConfig) GetPostgresDSN() string {
	if c.PostgresDSN == nil {
		return ""
	}
	return *c.PostgresDSN
}

// Overrides applies command-line values on top of a loaded config. Empty
// strings and zero values leave the config untouched.
type Overrides struct {
	ListenAddr   string
	GRPCAddr     string
	SerialPort   string
	DBPath       string
	ScenarioPath string
	LayoutPath   string
	DisableLock  bool
}

// Apply merges o into c.
func (c *GuideConfig) Apply(o Overrides) {
	if o.ListenAddr != "" {
		c.ListenAddr = ptrString(o.ListenAddr)
	}
	if o.GRPCAddr != "" {
		c.GRPCAddr = ptrString(o.GRPCAddr)
	}
	if o.SerialPort != "" {
		c.SerialPort = ptrString(o.SerialPort)
	}
	if o.DBPath != "" {
		c.DBPath = ptrString(o.DBPath)
	}
	if o.ScenarioPath != "" {
		c.ScenarioPath = ptrString(o.ScenarioPath)
	}
	if o.LayoutPath != "" {
		c.LayoutPath = ptrString(o.LayoutPath)
	}
	if o.DisableLock {
		c.RestoreLock = ptrBool(false)
	}
}
