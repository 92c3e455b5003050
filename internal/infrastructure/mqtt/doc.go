// Package mqtt connects an enrollment station to an MQTT broker.
//
// The station publishes its progress and status below aufbau/{station}/
// and accepts operator commands on aufbau/{station}/command/{name}:
//
//	aufbau/{station}/status                     retained online/offline, LWT
//	aufbau/{station}/run                        retained run status
//	aufbau/{station}/bus                        retained bus health
//	aufbau/{station}/progress/{class}/{index}   one message per progress event
//	aufbau/{station}/command/{start|skip|cancel}
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
