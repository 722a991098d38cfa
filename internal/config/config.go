// Package config provides configuration types and loading for livedesk.
package config

// Config is the root configuration struct.
type Config struct {
	Store     StoreConfig     `json:"store"`
	Realtime  RealtimeConfig  `json:"realtime"`
	Gateway   GatewayConfig   `json:"gateway"`
	Analytics AnalyticsConfig `json:"analytics"`
	Slack     SlackConfig     `json:"slack"`
}

// StoreConfig locates the durable document store.
type StoreConfig struct {
	Path string `json:"path" envconfig:"STORE_PATH"`
}

// RealtimeConfig configures the real-time presence tier. When Addr is
// empty the engine falls back to the in-process tree, which serves a
// single-node deployment.
type RealtimeConfig struct {
	Addr string `json:"addr" envconfig:"REDIS_ADDR"`
	DB   int    `json:"db" envconfig:"REDIS_DB"`
}

// GatewayConfig configures the HTTP API surface.
type GatewayConfig struct {
	Addr string `json:"addr" envconfig:"GATEWAY_ADDR"`
}

// AnalyticsConfig configures the Kafka analytics stream. Disabled unless
// brokers are set.
type AnalyticsConfig struct {
	Brokers []string `json:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string   `json:"topic" envconfig:"KAFKA_TOPIC"`
}

// SlackConfig configures specialist notifications. Disabled unless a token
// is set.
type SlackConfig struct {
	Token   string `json:"token" envconfig:"SLACK_TOKEN"`
	Channel string `json:"channel" envconfig:"SLACK_CHANNEL"`
}
