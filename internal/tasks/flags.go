package tasks

import "github.com/spf13/pflag"

// AddFlags registers the overrides shared by every binary.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", "", "path to YAML config")
	fs.StringVar(&o.Driver, "driver", "", "store driver: sqlite or postgres")
	fs.StringVar(&o.DSN, "dsn", "", "store DSN (sqlite path or postgres URL)")
	fs.StringVar(&o.Timezone, "timezone", "", "IANA zone of the device clock")
	fs.IntVar(&o.PageSize, "page-size", 0, "rows per insert transaction")
	fs.StringVar(&o.LogLevel, "log-level", "", "debug, info, warn or error")
}
