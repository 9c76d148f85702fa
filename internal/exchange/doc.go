// Package exchange fetches market data from public cryptocurrency exchange
// REST APIs.
//
// Each supported venue has an Adapter that translates between the venue's
// native symbols and payloads and the unified model types:
//   - binance:  https://api.binance.com
//   - coinbase: https://api.exchange.coinbase.com
//   - kraken:   https://api.kraken.com
//
// The Registry owns the configured adapters, loads their market lists at
// startup, and periodically reloads them. Exchanges that fail to load are
// excluded until a later reload succeeds.
package exchange
