package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/archive"
	"platewatch/internal/config"
	"platewatch/internal/db"
	"platewatch/internal/notify"
	"platewatch/internal/repository"
	"platewatch/internal/service"
	"platewatch/internal/store"
)

// owner bundles the resources held by the process that owns the records.
type owner struct {
	store    store.Store
	archive  *archive.Archive
	notifier *notify.MQTTNotifier
	service  *service.SightingService
}

func openOwner(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*owner, error) {
	st, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	ar, err := archive.New(archive.Config{
		PlatesDir:    cfg.Archive.PlatesDir,
		OriginalsDir: cfg.Archive.OriginalsDir,
		ResultsDir:   cfg.Archive.ResultsDir,
		Ext:          cfg.Archive.Ext,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	o := &owner{store: st, archive: ar}

	var notifier service.Notifier
	if cfg.MQTT.Broker != "" {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		n, err := notify.Connect(cctx, notify.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, log)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("sighting notifications disabled")
		} else {
			o.notifier = n
			notifier = n
		}
	}

	o.service = service.NewSightingService(st, ar, notifier, log.With().Str("component", "sighting_service").Logger())
	return o, nil
}

func (o *owner) Close() error {
	if o.notifier != nil {
		o.notifier.Close()
	}
	return o.store.Close()
}

func openStore(cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		conn, err := db.Open(cfg.Store.DSN, log)
		if err != nil {
			return nil, err
		}
		return repository.NewSightingRepository(conn), nil
	case "csv":
		fs, err := store.Open(cfg.Store.Path, log)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
