package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CASEFILE"

type Config struct {
	Bind        string
	Port        int
	MaxRooms    int
	DatabaseURL string
	ExportFile  string
	AdminIDs    []string
	CORSOrigins []string
	EventRate   float64
	EventBurst  int
	Verbose     bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.MaxRooms < 1 {
		return errors.New("--max-rooms must be at least 1")
	}
	if c.EventRate <= 0 || c.EventBurst < 1 {
		return errors.New("--event-rate and --event-burst must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Register adds the server flags to fs. Every flag can also be set through
// the environment as CASEFILE_<FLAG_NAME>.
func Register(fs *pflag.FlagSet, c *Config) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: CASEFILE_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: CASEFILE_PORT)")
	fs.IntVar(&c.MaxRooms, "max-rooms", 4, "maximum number of concurrent rooms (env: CASEFILE_MAX_ROOMS)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "postgres connection string, in-memory stores when empty (env: CASEFILE_DATABASE_URL)")
	fs.StringVar(&c.ExportFile, "export-file", "./casefile-archive.txt", "text archive for finished documents when no database is set, empty disables (env: CASEFILE_EXPORT_FILE)")
	fs.StringSliceVar(&c.AdminIDs, "admin-ids", nil, "stable user ids with admin rights for the in-memory profile store (env: CASEFILE_ADMIN_IDS)")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origins", []string{"*"}, "allowed CORS origins (env: CASEFILE_CORS_ORIGINS)")
	fs.Float64Var(&c.EventRate, "event-rate", 10, "socket events per second allowed per connection (env: CASEFILE_EVENT_RATE)")
	fs.IntVar(&c.EventBurst, "event-burst", 20, "socket event burst allowed per connection (env: CASEFILE_EVENT_BURST)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "log debug output (env: CASEFILE_VERBOSE)")
}

// ApplyEnv copies environment values into flags the user did not set.
func ApplyEnv(fs *pflag.FlagSet, v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if xs, ok := val.([]string); ok {
				val = strings.Join(xs, ",")
			}
			_ = fs.Set(f.Name, fmt.Sprintf("%v", val))
		}
	})
}
