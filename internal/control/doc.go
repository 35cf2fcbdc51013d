// Package control bridges the component container to MQTT.
//
// The Bridge publishes a retained SlotState for every slot whenever it
// changes, accepts activation commands, and turns stage axis inputs into jog
// movements:
//
//	experiment/core/slot/laser/laser/active      <- {"implementation":"FakeLaser",...}
//	experiment/command/slot/laser/laser          -> {"implementation":"FakeLaser","settings":{"Test":"b"}}
//	experiment/input/stage/stage/axis/x          -> 0.75
//
// Axis inputs are shaped by ShapeAxis and held until the next value for the
// same axis; every JogInterval the active stage's target moves by
// velocity * elapsed * JogSpeed.
//
//	b := control.New(container, mqttClient, byte(cfg.MQTT.QoS))
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package control
