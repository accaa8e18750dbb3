package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Daneel-Li/clubpay/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher publishes each event to <prefix>/<type> with QoS 1.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
}

func NewMQTTPublisher(cfg config.MqttConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetAutoReconnect(true) // 开启自动重连
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(5 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Debug("mqtt 连接成功！")
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		slog.Warn("mqtt client disconnected. trying to reconnect...", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt client failed: %v", token.Error())
	}
	return newMQTTPublisher(client, cfg.TopicPrefix), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	if prefix == "" {
		prefix = "clubpay/events"
	}
	return &MQTTPublisher{client: client, prefix: prefix}
}

func (p *MQTTPublisher) Topic(t Type) string {
	return fmt.Sprintf("%s/%s", p.prefix, t)
}

func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := p.client.Publish(p.Topic(ev.Type), 1, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
