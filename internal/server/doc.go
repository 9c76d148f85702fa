// Package server exposes market data over HTTP and WebSocket.
//
// Routes:
//
//	GET    /health                            component health
//	GET    /                                  service info
//	GET    /api/exchanges                     supported exchanges
//	GET    /api/ticker/{exchange}/{symbol}    cached ticker
//	POST   /api/historical                    cached OHLCV candles
//	GET    /api/markets/{exchange}            cached market symbols
//	GET    /api/latest/{exchange}/{symbol}    feed ticker from Redis (when configured)
//	GET    /api/cache                         response cache stats
//	DELETE /api/cache                         clear the response cache
//	GET    /ws                                WebSocket subscriptions
//
// Symbols contain a slash (BTC/USDT) and are matched as a path suffix.
package server
