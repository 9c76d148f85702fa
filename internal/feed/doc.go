// Package feed periodically polls tickers and publishes them to WebSocket
// clients.
//
// Each cycle refreshes the configured (exchange, symbol) pairs through the
// market data service, which also refreshes the response cache, then
// broadcasts a ticker message and hands the ticker to any registered sinks
// (history writer, latest store).
package feed
