package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"vsfy/config"
	"vsfy/db"
	"vsfy/vsfy/client"
	"vsfy/vsfy/downloads"
	"vsfy/vsfy/fileshare"
	"vsfy/vsfy/player"
	"vsfy/vsfy/shared"
	"vsfy/vsfy/transfer"
	"vsfy/vsfy/uploads"
)

const sessionTTL = 30 * time.Minute

// app is one fully wired client process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	history   *db.DB
	uploads   *uploads.UploadManager
	downloads *downloads.DownloadManager
	catalog   *fileshare.Shared
	consumer  player.Consumer
	client    *client.Client
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var uploadRepo uploads.UploadRepository
	var downloadRepo downloads.DownloadRepository
	if cfg.History.Enabled {
		history, err := db.NewSqliteDB(cfg.History.DBPath)
		if err != nil {
			return nil, err
		}
		a.history = history
		uploadRepo = db.NewUploadRepository(history)
		downloadRepo = db.NewDownloadRepository(history)
	}
	a.uploads = uploads.NewUploadManager(sessionTTL, logger, uploadRepo)
	a.downloads = downloads.NewDownloadManager(sessionTTL, logger, downloadRepo)

	consumer, err := player.New(cfg.Player.Mode, cfg.Player.Command, cfg.Catalog.DownloadsDir, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.consumer = consumer

	a.catalog = fileshare.NewShared(cfg.Catalog.MusicDir, logger)
	server := transfer.NewServer(a.catalog, a.uploads, transfer.ServerConfig{
		RequestTimeout: cfg.Transfer.RequestTimeout,
		AckTimeout:     cfg.Transfer.AckTimeout,
		UploadRate:     cfg.Transfer.UploadRate,
	}, logger)
	fetcher := transfer.NewFetcher(a.downloads, transfer.FetcherConfig{
		DialTimeout:  cfg.Transfer.DialTimeout,
		SettleWindow: cfg.Transfer.SettleWindow,
	}, logger)

	identity := shared.NewClientIdentity(cfg.Client.Name, a.catalog.Items())
	a.client = client.NewClient(client.Options{
		Host:            cfg.Directory.Host,
		Port:            cfg.Directory.Port,
		DialTimeout:     cfg.Directory.DialTimeout,
		ResponseTimeout: cfg.Directory.ResponseTimeout,
		TransferAddr:    net.JoinHostPort("", strconv.Itoa(cfg.Transfer.Port)),
	}, identity, server, fetcher, logger)
	return a, nil
}

func (a *app) Connect(ctx context.Context) error {
	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to directory %s: %w", a.cfg.Directory.Address(), err)
	}
	return nil
}

func (a *app) Close() error {
	var err error
	if a.client != nil {
		err = a.client.Close()
	}
	if a.uploads != nil {
		a.uploads.Close()
	}
	if a.downloads != nil {
		a.downloads.Close()
	}
	if a.history != nil {
		err = errors.Join(err, a.history.Close())
	}
	return err
}
