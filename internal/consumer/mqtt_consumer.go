package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tamacloud/internal/ingest"
	"tamacloud/pkg/mqttx"
)

// 订阅主题：tamacloud/{device_id}/data
const topicPattern = "tamacloud/+/data"

// MQTTConsumer MQTT 遥测消费者
// HTTP 上报之外的第二条摄取通道，设备按主题自报身份，消息体与 HTTP 相同
type MQTTConsumer struct {
	mqttClient *mqttx.Client
	service    *ingest.Service
	qos        byte
	logger     *zap.Logger
}

func NewMQTTConsumer(mqttClient *mqttx.Client, service *ingest.Service, qos byte, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		mqttClient: mqttClient,
		service:    service,
		qos:        qos,
		logger:     logger,
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(topicPattern, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", topicPattern))

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(_ context.Context) error {
	if err := c.mqttClient.Unsubscribe(topicPattern); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理一条遥测消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	// 主题格式: tamacloud/{device_id}/data
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	deviceID := parts[1]

	var p ingest.SensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Error("Failed to unmarshal telemetry message",
			zap.String("topic", topic), zap.Error(err))
		return err
	}
	// 主题身份优先于消息体
	p.DeviceID = deviceID

	if _, err := c.service.Process(context.Background(), &p); err != nil {
		c.logger.Error("Failed to process MQTT telemetry",
			zap.String("device_id", deviceID), zap.Error(err))
		return err
	}
	return nil
}
