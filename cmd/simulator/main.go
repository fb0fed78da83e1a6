package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/logging"
)

type payload struct {
	Timestamp string             `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

type device struct {
	factorySlug string
	deviceKey   string
}

var fleet = []device{
	{"acme-plant-1", "press-01"},
	{"acme-plant-1", "press-02"},
	{"acme-plant-1", "lathe-01"},
	{"northwind-mill", "spindle-07"},
}

func main() {
	rand.Seed(time.Now().UnixNano())
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Init(config.LogLevel())

	opts := mqtt.NewClientOptions().
		AddBroker(config.MQTTBroker()).
		SetClientID(config.MQTTClientID() + "-simulator")
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect failed")
	}
	defer client.Disconnect(250)

	for i := 0; i < 200; i++ {
		d := fleet[i%len(fleet)]
		topic := fmt.Sprintf("factories/%s/devices/%s/telemetry", d.factorySlug, d.deviceKey)

		body, err := json.Marshal(payload{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Metrics: map[string]float64{
				"spindle_temp": 70 + rand.Float64()*30,
				"vibration_mm": 0.5 + rand.Float64()*1.5,
				"rpm":          1200 + rand.Float64()*300,
			},
		})
		if err != nil {
			log.Error().Err(err).Msg("marshal telemetry failed")
			continue
		}

		token := client.Publish(topic, 1, false, body)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("publish failed")
		}

		time.Sleep(500 * time.Millisecond)
	}
	log.Info().Msg("simulation done")
}
