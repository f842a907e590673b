package config

import "github.com/spf13/pflag"

// Flags holds command-line overrides. Only flags the user actually set
// override file values.
type Flags struct {
	ConfigPath       string
	Debug            bool
	LogLevel         string
	LogFile          string
	ScaleValues      float64
	ScaleCoordinates float64
	Encoding         string

	fs *pflag.FlagSet
}

// Register binds the override flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	def := Default()
	f.fs = fs

	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.LogLevel, "log-level", def.Logging.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Also write JSON logs to this file")
	fs.Float64Var(&f.ScaleValues, "scale", def.Conversion.ScaleValues, "Scale factor for time series values")
	fs.Float64Var(&f.ScaleCoordinates, "scale_coordinates", def.Conversion.ScaleCoordinates, "Scale factor for vertex coordinates")
	fs.StringVar(&f.Encoding, "encoding", def.Conversion.Encoding, "GIFTI data encoding (GZipBase64Binary, Base64Binary, ASCII)")
}

func (f *Flags) changed(name string) bool {
	return f.fs != nil && f.fs.Changed(name)
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config, f *Flags) {
	if f == nil {
		return
	}
	if f.changed("log-level") {
		cfg.Logging.Level = f.LogLevel
	}
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.changed("log-file") {
		cfg.Logging.LogFile = f.LogFile
	}
	if f.changed("scale") {
		cfg.Conversion.ScaleValues = f.ScaleValues
	}
	if f.changed("scale_coordinates") {
		cfg.Conversion.ScaleCoordinates = f.ScaleCoordinates
	}
	if f.changed("encoding") {
		cfg.Conversion.Encoding = f.Encoding
	}
}
