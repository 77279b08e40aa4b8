package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Exchange holds the immutable fee configuration plus the identity the
// engine presents to the token contract when pulling approved funds.
type Exchange struct {
	Self       common.Address // exchange's own account (transferFrom recipient)
	FeeAccount common.Address // receives the protocol cut of every fill
	FeePercent uint64         // integer percent, e.g. 10 means 10%
}

type Node struct {
	APIListen string // REST/websocket bind address
	DBPath    string // pebble database directory
	LogFile   string // log file path; empty means console only
}

type Config struct {
	Exchange Exchange
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Self:       common.HexToAddress("0x00000000000000000000000000000000000E0001"),
			FeeAccount: common.HexToAddress("0x00000000000000000000000000000000000Fee00"),
			FeePercent: 10,
		},
		Node: Node{
			APIListen: ":8080",
			DBPath:    "data/stonxed.db",
			LogFile:   "data/stonxed.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("EXCHANGE_ADDRESS"); common.IsHexAddress(v) {
		cfg.Exchange.Self = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Exchange.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		if pct, err := strconv.ParseUint(v, 10, 64); err == nil && pct <= 100 {
			cfg.Exchange.FeePercent = pct
		}
	}

	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.Node.APIListen = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	// LOG_FILE="" explicitly disables the file sink
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.Node.LogFile = v
	}

	return cfg
}
