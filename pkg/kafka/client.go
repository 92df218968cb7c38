// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"datavault-go/internal/config"
	"datavault-go/pkg/log"
	"datavault-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个任务的最大处理次数，超过后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DataProcessTask) error
}

// Publisher 把事件写入 Kafka。事件名写在消息头 "event" 中。
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher 初始化 Kafka 生产者。
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Publisher{writer: w}
}

// Publish 发送一个事件，调用方不等待任何订阅者。
func (p *Publisher) Publish(ctx context.Context, event string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(event)}},
	}
	if k, ok := payload.(interface{ Key() string }); ok {
		msg.Key = []byte(k.Key())
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close 关闭生产者。
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理 data.process 任务，ctx 结束时退出。
// 失败次数记录在 Redis 中，达到 maxAttempts 后提交 offset 终止重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		if ev := header(m, "event"); ev != "" && ev != tasks.DataProcessEvent {
			commit(r, m)
			continue
		}

		var task tasks.DataProcessTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(r, m)
			continue
		}

		attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.Key())
		if err := processor.Process(ctx, task); err != nil {
			log.Errorf("处理 data.process 任务失败: file_id=%s, error: %v", task.FileID, err)
			attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
			if attempts >= maxAttempts {
				log.Errorf("任务多次失败(>=%d)，提交 offset 终止重试: file_id=%s", maxAttempts, task.FileID)
				commit(r, m)
			}
			continue
		}

		log.Infof("data.process 任务处理成功: file_id=%s", task.FileID)
		_ = rdb.Del(ctx, attemptsKey).Err()
		commit(r, m)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

func commit(r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(context.Background(), m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// brokers 解析逗号分隔的 broker 列表。
func brokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
