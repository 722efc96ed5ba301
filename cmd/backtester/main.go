// Command backtester runs trading strategies against historical bars, serves
// backtests over HTTP and gRPC, and prefetches market data into the local
// parquet cache.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
