// Package remote bridges the enrollment engine to an MQTT broker so an
// operator can follow and steer a run from another machine.
//
// Outbound, the Bridge publishes every progress event, the retained run
// status and a periodic retained bus health snapshot. Inbound, it accepts
// start, skip and cancel commands and forwards them to the controller.
package remote
