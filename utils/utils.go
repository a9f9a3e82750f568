package utils

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/beyondbrewing/brewery-ledger/config"
)

func ImportEnv() {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Panicln(fmt.Errorf("fatal error config file: %s", err))
		}
	}
}

// LoadConfig copies the values read by ImportEnv into the config package.
// Unset keys keep their compiled-in defaults.
func LoadConfig() error {
	v := viper.GetViper()

	// Applied first so a logger can be built even when a later key fails.
	if v.IsSet("LOG_DEVELOPMENT") {
		config.LOG_DEVELOPMENT = v.GetBool("LOG_DEVELOPMENT")
	}

	if v.IsSet("STORE_BACKEND") {
		config.STORE_BACKEND = v.GetString("STORE_BACKEND")
	}
	if v.IsSet("STORE_DATA_DIR") {
		config.STORE_DATA_DIR = v.GetString("STORE_DATA_DIR")
	}
	if v.IsSet("STORE_CACHE_SIZE") {
		config.STORE_CACHE_SIZE = v.GetInt64("STORE_CACHE_SIZE")
	}
	if v.IsSet("STORE_SYNC_WRITES") {
		config.STORE_SYNC_WRITES = v.GetBool("STORE_SYNC_WRITES")
	}
	if v.IsSet("STORE_SAVE_INTERVAL") {
		config.STORE_SAVE_INTERVAL = v.GetDuration("STORE_SAVE_INTERVAL")
	}
	if v.IsSet("HISTORY_MAX_ORDER_RECORDS") {
		config.HISTORY_MAX_ORDER_RECORDS = v.GetUint32("HISTORY_MAX_ORDER_RECORDS")
	}
	if v.IsSet("HISTORY_MAX_ORDER_SECONDS") {
		config.HISTORY_MAX_ORDER_SECONDS = v.GetUint32("HISTORY_MAX_ORDER_SECONDS")
	}
	if v.IsSet("HISTORY_MAX_BUCKETS") {
		config.HISTORY_MAX_BUCKETS = v.GetUint32("HISTORY_MAX_BUCKETS")
	}
	if v.IsSet("HISTORY_BUCKET_SIZES") {
		sizes, err := parseBucketSizes(v.GetStringSlice("HISTORY_BUCKET_SIZES"))
		if err != nil {
			return err
		}
		config.HISTORY_BUCKET_SIZES = sizes
	}
	if v.IsSet("METRICS_ADDR") {
		config.METRICS_ADDR = v.GetString("METRICS_ADDR")
	}
	return nil
}

// parseBucketSizes accepts "15,60,300" as well as a list.
func parseBucketSizes(raw []string) ([]uint32, error) {
	var out []uint32
	for _, item := range raw {
		for _, f := range strings.Split(item, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			n, err := cast.ToUint32E(f)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("utils: invalid bucket size %q", f)
			}
			out = append(out, n)
		}
	}
	return out, nil
}
