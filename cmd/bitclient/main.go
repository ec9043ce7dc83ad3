// Command bitclient is the Driver (spec.md §4, §6): it parses
// `<torrent-path> <listen-port>`, loads the torrent, opens and resumes
// the data file, binds the listener, and hands off to the engine's
// run loop. No teacher main.go was retrieved with this pack; the CLI
// shape follows spec.md §6 literally and the construction sequence
// follows the dependency order of SPEC_FULL.md's component table.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gopeers/bitclient/internal/config"
	"github.com/gopeers/bitclient/internal/engine"
	"github.com/gopeers/bitclient/internal/logger"
	"github.com/gopeers/bitclient/internal/metainfo"
	"github.com/gopeers/bitclient/internal/peerid"
	"github.com/gopeers/bitclient/internal/piece"
	"github.com/gopeers/bitclient/internal/piecestore"
	"github.com/gopeers/bitclient/internal/scheduler"
	"github.com/gopeers/bitclient/internal/tracker"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.New("driver")
	defer logger.Sync()

	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: bitclient <torrent-path> <listen-port>")
		return 1
	}
	torrentPath := os.Args[1]
	var port int
	if _, err := fmt.Sscanf(os.Args[2], "%d", &port); err != nil {
		fmt.Fprintln(os.Stderr, "bad listen port:", os.Args[2])
		return 1
	}

	f, err := os.Open(torrentPath)
	if err != nil {
		log.Errorln("open torrent file:", err)
		return 1
	}
	mi, err := metainfo.New(f)
	f.Close()
	if err != nil {
		log.Errorln("parse torrent file:", err)
		return 1
	}

	cfg, err := config.Load("bitclient.yaml")
	if err != nil {
		log.Errorln("load config:", err)
		return 1
	}

	ourID, err := peerid.New()
	if err != nil {
		log.Errorln("generate peer-id:", err)
		return 1
	}

	dataPath := filepath.Join(filepath.Dir(torrentPath), mi.Info.Name)
	store, err := piecestore.Open(dataPath, mi.Info.Length, mi.Info.PieceLength)
	if err != nil {
		log.Errorln("open data file:", err)
		return 1
	}
	defer store.Close()

	pieces := piece.NewPieces(mi.Info.Length, mi.Info.PieceLength, mi.Info.Pieces, cfg.SubPieceLength)
	resume, err := store.Scan(pieces)
	if err != nil {
		log.Errorln("resume scan:", err)
		return 1
	}
	log.Infof("resume scan: %d/%d pieces verified", countTrue(resume.Verified), len(pieces))

	sched := scheduler.New(pieces, mi.Info.Length, cfg.SubPieceLength, cfg.SubPieceTimeout, store, resume, log)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.Errorln("listen:", err)
		return 1
	}
	defer ln.Close()

	trackers := make([]*tracker.Tracker, 0, len(mi.Announces))
	for _, url := range mi.Announces {
		if !tracker.ValidURL(url) {
			log.Debugln("skipping non-HTTP announce URL:", url)
			continue
		}
		trackers = append(trackers, tracker.New(url, cfg.TrackerHTTPTimeout))
	}

	sess := engine.New(cfg, mi, ourID, store, sched, trackers, ln, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Infof("%s: listening on %s, %d peers known so far", mi.Info.Name, ln.Addr(), 0)
	sess.Run(ctx)
	return 0
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
