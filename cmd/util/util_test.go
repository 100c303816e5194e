package util

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func TestGetClientConfig(t *testing.T) {
	viper.Set("transport-endpoints", "a:1, b:2,,")
	viper.Set("timeout", 7)
	viper.Set("transport-retries", 2)
	viper.Set("transport-conn-per-endpoint", 4)
	t.Cleanup(viper.Reset)

	config := GetClientConfig()
	assert.Equal(t, []string{"a:1", "b:2"}, config.Endpoints)
	assert.Equal(t, 7, config.TimeoutSecond)
	assert.Equal(t, 2, config.RetryCount)
	assert.Equal(t, 4, config.ConnectionsPerEndpoint)
}

func TestGetSerializerAndTransport(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("serializer", "yaml")
	_, err := GetSerializer()
	assert.Error(t, err)

	viper.Set("transport", "udp")
	_, err = GetClientTransport()
	assert.Error(t, err)
	_, err = GetServerTransport()
	assert.Error(t, err)

	for _, name := range []string{"http", "tcp", "unix"} {
		viper.Set("transport", name)
		_, err = GetClientTransport()
		assert.NoError(t, err)
	}
}
