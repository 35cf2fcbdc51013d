// Package mqtt is experimentd's broker session, built on paho.mqtt.golang.
//
// A Client announces itself with a retained presence message on the system
// status topic, leaves an offline will with the broker, and restores its
// subscription routes after every reconnect. Handler errors and panics are
// logged, never propagated to paho.
//
// # Topics
//
//	experiment/core/slot/<contract>/<slot>/active   retained slot state
//	experiment/command/slot/<contract>/<slot>       activation commands
//	experiment/input/stage/<slot>/axis/<axis>       jog inputs in [-1, 1]
//	experiment/system/status                        presence
//
// Slot ids are reduced to topic-safe slugs with Slug.
package mqtt
