package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/device"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/config"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/logging"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meinheim-core/internal/rules"
)

const (
	ruleWatering = "watering"
	ruleDeskLamp = "desk_lamp"

	commandTimeout = 10 * time.Second
)

// registerRules builds the watering and desk lamp rules. Both switch their
// socket through the socket registry so rule actions are audited and
// announced like manual ones.
func registerRules(cfg *config.Config, reg *rules.Registry, switcher rules.SocketSwitcher, sensors rules.SensorReader, log *logging.Logger) error {
	wateringSocket, ok := cfg.Socket(cfg.Rules.Watering.Socket)
	if !ok {
		return fmt.Errorf("watering rule: unknown socket %q", cfg.Rules.Watering.Socket)
	}
	watering, err := rules.NewWatering(switcher, rules.WateringConfig{
		Socket:   target(wateringSocket),
		Times:    cfg.Rules.Watering.Times,
		Duration: time.Duration(cfg.Rules.Watering.Duration) * time.Second,
		Location: cfg.Location(),
	})
	if err != nil {
		return fmt.Errorf("watering rule: %w", err)
	}
	watering.SetLogger(log)

	lampSocket, ok := cfg.Socket(cfg.Rules.DeskLamp.Socket)
	if !ok {
		return fmt.Errorf("desk lamp rule: unknown socket %q", cfg.Rules.DeskLamp.Socket)
	}
	lamp, err := rules.NewDeskLamp(sensors, switcher, rules.DeskLampConfig{
		Socket:         target(lampSocket),
		DistanceUID:    cfg.Rules.DeskLamp.DistanceUID,
		IlluminanceUID: cfg.Rules.DeskLamp.IlluminanceUID,
		OnCondition:    cfg.Rules.DeskLamp.OnCondition,
		OffCondition:   cfg.Rules.DeskLamp.OffCondition,
	})
	if err != nil {
		return fmt.Errorf("desk lamp rule: %w", err)
	}
	lamp.SetLogger(log)

	defs := []rules.Config{
		{
			ID:       ruleWatering,
			Name:     "Watering Rule",
			Interval: time.Duration(cfg.Rules.Watering.Interval) * time.Second,
			Logic:    watering.Run,
		},
		{
			ID:       ruleDeskLamp,
			Name:     "Desklamp Rule",
			Interval: time.Duration(cfg.Rules.DeskLamp.Interval) * time.Second,
			Logic:    lamp.Run,
		},
	}
	for _, def := range defs {
		rule, err := rules.New(def)
		if err != nil {
			return fmt.Errorf("rule %s: %w", def.ID, err)
		}
		rule.SetLogger(log)
		if err := reg.Register(rule); err != nil {
			return err
		}
	}
	return nil
}

func target(s config.SocketConfig) rules.Target {
	return rules.Target{ID: s.ID, DeviceUID: s.DeviceUID, Address: s.Address, Unit: s.Unit}
}

// socketCommander and ruleCommander are the parts of the registries the
// MQTT command handlers use.
type socketCommander interface {
	Switch(ctx context.Context, id string, on bool, source string) (device.Socket, error)
}

type ruleCommander interface {
	Start(ctx context.Context, id, source string) (rules.Status, error)
	Stop(ctx context.Context, id, source string) (rules.Status, error)
}

type subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// subscribeCommands routes meinheim/command/{socket|rule}/{id} messages to
// the registries.
func subscribeCommands(client subscriber, sockets socketCommander, ruleReg ruleCommander, log *logging.Logger) error {
	handler := commandHandler(sockets, ruleReg, log)
	for _, topic := range []string{mqtt.Topics{}.AllSocketCommands(), mqtt.Topics{}.AllRuleCommands()} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return nil
}

func commandHandler(sockets socketCommander, ruleReg ruleCommander, log *logging.Logger) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		cmd, err := mqtt.ParseCommand(topic, payload)
		if err != nil {
			log.Warn("ignoring MQTT command", "topic", topic, "error", err)
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		switch cmd.Kind {
		case mqtt.KindSocket:
			_, err = sockets.Switch(ctx, cmd.ID, cmd.On, audit.SourceMQTT)
		case mqtt.KindRule:
			if cmd.On {
				_, err = ruleReg.Start(ctx, cmd.ID, audit.SourceMQTT)
			} else {
				_, err = ruleReg.Stop(ctx, cmd.ID, audit.SourceMQTT)
			}
		}
		if errors.Is(err, device.ErrSocketNotFound) || errors.Is(err, rules.ErrRuleNotFound) {
			log.Warn("MQTT command for unknown target", "topic", topic)
			return nil
		}
		return err
	}
}
