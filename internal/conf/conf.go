// Package conf holds the process configuration. Files are loaded with the
// kratos config package and scanned into these structs through their json
// tags, so YAML keys use snake_case.
package conf

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	_ "github.com/go-kratos/kratos/v2/encoding/yaml"
)

// Bootstrap is the root of the configuration file.
type Bootstrap struct {
	Server      *Server                `json:"server"`
	Data        *Data                  `json:"data"`
	SignalTypes map[string]*SignalType `json:"signal_types"`
	Index       *Index                 `json:"index"`
	Match       *Match                 `json:"match"`
	Log         *Log                   `json:"log"`
}

type Server struct {
	Grpc *Server_GRPC `json:"grpc"`
}

type Server_GRPC struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Data struct {
	Database   *Data_Database   `json:"database"`
	Redis      *Data_Redis      `json:"redis"`
	S3         *Data_S3         `json:"s3"`
	BankStore  *Data_BankStore  `json:"bank_store"`
	IndexStore *Data_IndexStore `json:"index_store"`
}

type Data_Database struct {
	Driver string     `json:"driver"`
	Source string     `json:"source"`
	Pool   *Data_Pool `json:"pool"`
	// AutoMigrate applies pending migrations when the pool is opened.
	AutoMigrate bool `json:"auto_migrate"`
}

// Data_Pool lifetimes are in minutes.
type Data_Pool struct {
	MaxOpenConns    int32 `json:"max_open_conns"`
	MinIdleConns    int32 `json:"min_idle_conns"`
	MaxConnLifetime int32 `json:"max_conn_lifetime"`
	MaxConnIdleTime int32 `json:"max_conn_idle_time"`
}

type Data_Redis struct {
	Network      string    `json:"network"`
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int       `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

type Data_S3 struct {
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	UsePathStyle bool   `json:"use_path_style"`
}

type Data_BankStore struct {
	// Driver is "memory" or "postgres".
	Driver string `json:"driver"`
}

type Data_IndexStore struct {
	// Driver is one of memory, filesystem, postgres, redis, s3.
	Driver string `json:"driver"`
	// Path is the directory used by the filesystem driver.
	Path string `json:"path"`
	// KeyPrefix namespaces redis keys.
	KeyPrefix string `json:"key_prefix"`
}

type SignalType struct {
	SimilarityThreshold *int     `json:"similarity_threshold"`
	EnabledRatio        *float64 `json:"enabled_ratio"`
}

type Index struct {
	RebuildInterval *Duration `json:"rebuild_interval"`
	RefreshInterval *Duration `json:"refresh_interval"`
	StaleAfter      *Duration `json:"stale_after"`
	BuildBatchSize  int       `json:"build_batch_size"`
	MihMinEntries   int       `json:"mih_min_entries"`
}

type Match struct {
	PolicyCacheTtl *Duration `json:"policy_cache_ttl"`
	// CoinflipSeed, when set, makes every lookup draw reproducible.
	CoinflipSeed *uint64 `json:"coinflip_seed"`
}

type Log struct {
	Level string `json:"level"`
}

// Load reads and scans the configuration file at path.
func Load(path string) (*Bootstrap, error) {
	c := config.New(
		config.WithSource(
			file.NewSource(path),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	var bc Bootstrap
	if err := c.Scan(&bc); err != nil {
		return nil, fmt.Errorf("scan config %s: %w", path, err)
	}
	return &bc, nil
}

// Duration is a time.Duration written as "30s" in config files. Bare
// numbers are read as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(x * float64(time.Second))
	case string:
		if secs, err := strconv.ParseFloat(x, 64); err == nil {
			*d = Duration(secs * float64(time.Second))
			return nil
		}
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// AsDuration is nil safe and returns 0 for a nil receiver.
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

// NewDuration is a convenience for building configs in code.
func NewDuration(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}
