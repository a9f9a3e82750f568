package config

import "time"

// injected configurations
var (
	APP_NAME    string = "brewery-ledger"
	APP_VERSION string = "0.0.1"
)

// value changed by paramaters from config
var (
	STORE_BACKEND       string        = "pebble"
	STORE_DATA_DIR      string        = "./data"
	STORE_CACHE_SIZE    int64         = 512 << 20
	STORE_SYNC_WRITES   bool          = false
	STORE_SAVE_INTERVAL time.Duration = time.Minute

	HISTORY_MAX_ORDER_RECORDS uint32   = 1000
	HISTORY_MAX_ORDER_SECONDS uint32   = 259200
	HISTORY_MAX_BUCKETS       uint32   = 1000
	HISTORY_BUCKET_SIZES      []uint32 = []uint32{15, 60, 300, 3600, 86400}

	LOG_DEVELOPMENT bool   = false
	METRICS_ADDR    string = "" // empty disables the metrics endpoint
)
