package bus

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTCoupling republishes every channel broadcast to an MQTT broker,
// so out-of-process listeners (devices, dashboards) can watch
// connector mutations without holding a WebSocket.
//
// Topic layout: <prefix>/<channel name>.
type MQTTCoupling struct {
	Client  mqtt.Client
	Prefix  string
	QoS     byte
	Quiesce uint
}

// NewMQTTCoupling connects to the broker.  Call Close when done.
func NewMQTTCoupling(broker, clientID, prefix string) (*MQTTCoupling, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		return nil, t.Error()
	}

	if prefix == "" {
		prefix = "weft"
	}

	return &MQTTCoupling{
		Client:  client,
		Prefix:  prefix,
		Quiesce: 250,
	}, nil
}

// Forward is a Bus.Coupling.
func (m *MQTTCoupling) Forward(ch Channel, payload interface{}) {
	js, err := json.Marshal(&payload)
	if err != nil {
		log.Printf("MQTTCoupling marshal error %v on channel %s", err, ch.Name)
		return
	}
	topic := m.Prefix + "/" + ch.Name
	if t := m.Client.Publish(topic, m.QoS, false, js); t.Wait() && t.Error() != nil {
		log.Printf("MQTTCoupling publish error %v on %s", t.Error(), topic)
	}
}

func (m *MQTTCoupling) Close() {
	m.Client.Disconnect(m.Quiesce)
}
