package main

import (
	"context"
	"errors"
	"io"

	iexec "github.com/andrej220/swapctl/internal/executor"
	"github.com/andrej220/swapctl/internal/journal"
	"github.com/andrej220/swapctl/internal/lg"
	"github.com/andrej220/swapctl/internal/node"
	"github.com/andrej220/swapctl/internal/swap"
	"github.com/andrej220/swapctl/pkg/config"
	"github.com/andrej220/swapctl/pkg/consumer"
	"github.com/andrej220/swapctl/pkg/executor"
)

const serviceName = "swapctl"

// connector opens the remote collaborators for cfg.
type connector func(cfg *config.Config, logger lg.Logger) (executor.Executor, executor.DirectorySync, io.Closer, error)

// app carries the flags and the runtime one command works with.
type app struct {
	cfgPath   string
	debug     bool
	logFormat string

	connect    connector
	openReader func(consumer.Config) eventReader

	cfg     *config.Config
	logger  lg.Logger
	exec    executor.Executor
	sync    executor.DirectorySync
	journal journal.Journal
	closers []io.Closer
}

func newApp() *app {
	return &app{connect: sshConnect, openReader: kafkaReader}
}

func sshConnect(cfg *config.Config, logger lg.Logger) (executor.Executor, executor.DirectorySync, io.Closer, error) {
	resolver, err := iexec.NewHostResolver(cfg.SSHSettings())
	if err != nil {
		return nil, nil, nil, err
	}
	ex := iexec.NewSSHExecutor(resolver, cfg.ResilienceOptions(), logger)
	return ex, iexec.NewSFTPSync(ex), ex, nil
}

// setup loads the config and connects. Hosts are dialed lazily on first use.
func (a *app) setup(ctx context.Context) error {
	a.logger = lg.New(&lg.Config{ServiceName: serviceName, Debug: a.debug, Format: a.logFormat})

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	ex, sync, closer, err := a.connect(cfg, a.logger)
	if err != nil {
		return err
	}
	a.exec, a.sync = ex, sync
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	a.journal = openJournal(ctx, cfg.Journal, a.logger)
	a.closers = append(a.closers, a.journal)
	return nil
}

func (a *app) teardown() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	if a.logger != nil {
		// stderr sync fails with EINVAL on some terminals
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func openJournal(ctx context.Context, cfg config.JournalConfig, logger lg.Logger) journal.Journal {
	var sinks journal.Multi
	if cfg.File != "" {
		sinks = append(sinks, journal.NewFileJournal(cfg.File))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, journal.NewKafkaJournal(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	if cfg.Mongo.URI != "" {
		mj, err := journal.NewMongoJournal(ctx, cfg.Mongo.URI, cfg.Mongo.DB, cfg.Mongo.Collection)
		if err != nil {
			// audit is best effort, a swap must not depend on it
			logger.Warn("mongo journal unavailable", lg.Err(err))
		} else {
			sinks = append(sinks, mj)
		}
	}
	switch len(sinks) {
	case 0:
		return journal.Discard
	case 1:
		return sinks[0]
	}
	return sinks
}

func (a *app) node(host string) *node.Node {
	return node.New(host, a.cfg.Node, a.exec, a.sync, a.logger)
}

func (a *app) nodeSet() (*swap.NodeSet, error) {
	return swap.FromHosts(a.cfg.Hosts, a.node)
}

func (a *app) orchestrator() (*swap.Orchestrator, error) {
	nodes, err := a.nodeSet()
	if err != nil {
		return nil, err
	}
	return swap.NewOrchestrator(nodes, a.cfg.LocalUnitDir,
		swap.WithStates(a.cfg.States),
		swap.WithJournal(a.journal),
		swap.WithLogger(a.logger),
	), nil
}
