// Package config loads the settings of a roboflex process.
//
// A configuration is one document with five sections: logging, metrics,
// nats, websocket and pipeline. Documents are JSON or YAML, chosen by file
// extension. Loading applies, in order:
//
//  1. Defaults from Default()
//  2. Each layer file, deep-merged over the previous ones
//  3. Validation of the merged document against the embedded JSON Schema
//  4. ROBOFLEX_* environment overrides
//  5. Config.Validate for cross-field rules
//
// Typical use:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/robot-7.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations are written as Go duration strings ("250ms", "2s").
//
// TLS is configured per connection: nats.tls for the broker,
// websocket.tls for the publisher's listener and websocket.client_tls for
// subscribers dialling wss:// URLs. Each is disabled unless enabled is true.
//
// Environment overrides:
//
//	ROBOFLEX_LOG_LEVEL        logging.level
//	ROBOFLEX_LOG_FORMAT       logging.format
//	ROBOFLEX_METRICS_ENABLED  metrics.enabled
//	ROBOFLEX_METRICS_ADDR     metrics.addr
//	ROBOFLEX_NATS_URL         nats.url
//	ROBOFLEX_NATS_SUBJECT     nats.subject
//	ROBOFLEX_NATS_USERNAME    nats.username
//	ROBOFLEX_NATS_PASSWORD    nats.password
//	ROBOFLEX_NATS_TOKEN       nats.token
//	ROBOFLEX_WS_LISTEN        websocket.listen
//	ROBOFLEX_WS_URL           websocket.url
//	ROBOFLEX_TRANSPORT        pipeline.transport
//	ROBOFLEX_FREQUENCY_HZ     pipeline.frequency_hz
package config
