package kafka

import (
	"testing"

	"datavault-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestBrokers(t *testing.T) {
	require.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092 "))
	require.Nil(t, brokers(""))
}

func TestHeader(t *testing.T) {
	m := kafka.Message{Headers: []kafka.Header{{Key: "event", Value: []byte(tasks.DataProcessEvent)}}}
	require.Equal(t, tasks.DataProcessEvent, header(m, "event"))
	require.Empty(t, header(m, "missing"))
}
