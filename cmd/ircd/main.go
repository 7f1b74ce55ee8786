// Command ircd is the daemon entrypoint: it wires a KV store, the event
// index, the state tree and the evaluation pipeline together, loads the
// conf items, logs that it is ready and exits; it starts no listener. It
// is the Go analogue of construct/construct.cc's main(),
// trading construct.cc's getopt-style flag table for cobra flags.
package main

import (
	"fmt"
	"os"

	"github.com/TurBoss/construct/conf"
	"github.com/TurBoss/construct/eval"
	"github.com/TurBoss/construct/eventindex"
	"github.com/TurBoss/construct/kv"
	"github.com/TurBoss/construct/state"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	baseDir    string
	confFile   string
	debugMode  bool
	quietMode  bool
	serverName string
)

func main() {
	root := &cobra.Command{
		Use:   "ircd",
		Short: "Matrix homeserver core daemon",
		RunE:  run,
	}
	root.Flags().StringVar(&baseDir, "base-dir", "./ircd", "directory holding the server's bbolt database")
	root.Flags().StringVar(&confFile, "conf", "", "YAML file of bootstrap conf item overrides")
	root.Flags().BoolVar(&debugMode, "debug", false, "enable debug-level logging")
	root.Flags().BoolVar(&quietMode, "quiet", false, "suppress log messages below warning")
	root.Flags().StringVar(&serverName, "server-name", "localhost", "this server's federation name")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	switch {
	case debugMode:
		log.SetLevel(logrus.DebugLevel)
	case quietMode:
		log.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	entry := log.WithField("server_name", serverName)

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return fmt.Errorf("creating base dir: %w", err)
	}
	store, err := kv.OpenBolt(baseDir + "/ircd.db")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	index := eventindex.New(store)
	tree := state.New(store)
	pipeline := eval.New(store, index, tree, nil, entry)

	registry := conf.New("!conf:"+serverName, tree, pipeline)
	registerDefaultConfItems(registry)
	if confFile != "" {
		if err := registry.LoadYAML(confFile); err != nil {
			return fmt.Errorf("loading conf overrides: %w", err)
		}
	}
	if err := registry.Rehash(cmd.Context()); err != nil {
		return fmt.Errorf("rehashing conf room: %w", err)
	}

	entry.WithField("items", registry.Names()).Info("ircd ready")
	return nil
}

func registerDefaultConfItems(r *conf.Registry) {
	r.Register("ircd.net.buffer.size", conf.TypeInt, "65536")
	r.Register("ircd.m.state.node_max_key", conf.TypeInt, "64")
	r.Register("ircd.federation.backfill.limit.default", conf.TypeInt, "64")
	r.Register("ircd.federation.backfill.limit.max", conf.TypeInt, "2048")
}
