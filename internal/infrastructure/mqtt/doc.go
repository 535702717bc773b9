// Package mqtt provides MQTT client connectivity for Ember Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Ember publishes every entity state change and availability transition
// to the broker so external consumers (dashboards, automations, other
// services) can follow the hub without polling its API.
//
//	Ember Core → MQTT Broker → External Consumers
//
// Topic layout is flat: ember/{category}/{domain}/{object_id}. State
// and availability messages are retained so late subscribers see the
// current picture immediately.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.EntityState("sensor", "outdoor_temp")
//	client.PublishRetained(topic, []byte(`{"value":21.5}`))
package mqtt
