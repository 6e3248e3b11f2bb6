// Package mqtt provides the broker connection the PDU bridge uses as its
// host transport.
//
// Every exposed outlet is announced, updated and commanded over a flat
// topic tree:
//
//	graylogic/discovery/pdu                  retained accessory list
//	graylogic/state/pdu/{accessory_id}       retained on/off state
//	graylogic/telemetry/pdu/{accessory_id}   electrical readings
//	graylogic/command/pdu/{accessory_id}     inbound writes
//	graylogic/ack/pdu/{accessory_id}         write acknowledgements
//	graylogic/health/pdu                     retained bridge health
//	graylogic/system/status/{client_id}      online/offline (LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handleCommand)
//
// Tests that need a live broker carry the integration build tag.
package mqtt
