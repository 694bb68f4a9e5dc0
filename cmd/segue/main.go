// Package main provides the segue player entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/segue/internal/app/playback"
	"github.com/osa030/segue/internal/app/replaygain"
	"github.com/osa030/segue/internal/domain/track"
	"github.com/osa030/segue/internal/infra/audio"
	"github.com/osa030/segue/internal/infra/config"
	"github.com/osa030/segue/internal/infra/library"
	"github.com/osa030/segue/internal/infra/logger"
)

var (
	app        = kingpin.New("segue", "gapless music player")
	configPath = app.Flag("config", "Path to config file").Default("config/segue.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	playCmd   = app.Command("play", "Scan and play (default)").Default()
	playPaths = playCmd.Arg("path", "Library roots to play (overrides config)").Strings()

	scanCmd = app.Command("scan", "Scan the library and print albums")

	inspectCmd  = app.Command("inspect", "Print a file's tags and gain")
	inspectFile = inspectCmd.Arg("file", "Audio file to inspect").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stderr", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}
	if loggerConfig.Level == "info" && cfg.Log.Level != "" && !*verbose {
		_ = logger.Init(logger.Config{Output: loggerConfig.Output, Level: cfg.Log.Level, File: loggerConfig.File})
	}

	switch command {
	case scanCmd.FullCommand():
		err = runScan(cfg)
	case inspectCmd.FullCommand():
		err = runInspect(*inspectFile)
	default:
		err = runPlay(cfg, *playPaths)
	}
	if err != nil {
		zlog.Error().Msgf("segue: %v", err)
		os.Exit(1)
	}
}

func scanTracks(cfg *config.Config, roots []string) ([]track.Track, error) {
	libCfg := cfg.Library
	if len(roots) > 0 {
		libCfg.Roots = roots
	}
	if len(libCfg.Roots) == 0 {
		return nil, fmt.Errorf("no library roots configured (set library.roots or pass paths)")
	}

	scanner, err := library.NewScanner(libCfg)
	if err != nil {
		return nil, err
	}
	return scanner.Scan(context.Background())
}

func runScan(cfg *config.Config) error {
	tracks, err := scanTracks(cfg, nil)
	if err != nil {
		return err
	}

	for _, a := range library.BuildAlbums(tracks) {
		fmt.Printf("%s - %s\n", a.Artist, a.Name)
		for _, t := range a.Tracks {
			gain := ""
			if t.HasReplayGain() {
				gain = " [RG]"
			}
			fmt.Printf("  %2d. %s%s\n", t.TrackNumber, t.DisplayName(), gain)
		}
	}
	fmt.Printf("%d tracks\n", len(tracks))
	return nil
}

func runInspect(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	tracks, err := scanTracksForFile(path)
	if err != nil {
		return err
	}
	t := tracks[0]

	fmt.Printf("location:     %s\n", t.Location)
	fmt.Printf("title:        %s\n", t.Title)
	fmt.Printf("artist:       %s\n", t.Artist)
	fmt.Printf("album:        %s (%s)\n", t.Album, t.AlbumArtist)
	fmt.Printf("track number: %d\n", t.TrackNumber)
	printGain := func(name string, g *track.Gain) {
		if g == nil {
			fmt.Printf("%s: none\n", name)
			return
		}
		fmt.Printf("%s: %.2f dB (peak %.3f)\n", name, g.DB, g.Peak)
	}
	printGain("track gain", t.TrackGain)
	printGain("album gain", t.AlbumGain)
	fmt.Printf("multiplier (track mode): %.3f\n", replaygain.Multiplier(t, replaygain.ModeTrack))
	fmt.Printf("multiplier (album mode): %.3f\n", replaygain.Multiplier(t, replaygain.ModeAlbum))
	return nil
}

// scanTracksForFile runs a single file through the scanner machinery so
// inspect output matches what a real scan would import.
func scanTracksForFile(path string) ([]track.Track, error) {
	s, err := library.NewScanner(library.Config{
		Roots:   []string{path},
		Filters: map[string]map[string]any{"min_size_filter": {"min_bytes": 1}},
	})
	if err != nil {
		return nil, err
	}
	tracks, err := s.Scan(context.Background())
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%s is not a playable audio file", path)
	}
	return tracks, nil
}

func runPlay(cfg *config.Config, roots []string) error {
	tracks, err := scanTracks(cfg, roots)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		return fmt.Errorf("no playable tracks found")
	}

	engine, err := audio.NewEngine(cfg.AudioEngineConfig())
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	controller := playback.NewController(engine, cfg.PlaybackConfig())
	defer controller.Close()

	controller.Enqueue(tracks...)
	subID, events := controller.Subscribe()
	defer controller.Unsubscribe(subID)
	go printEvents(events)

	if err := controller.Play(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	inputCh := make(chan string)
	go readCommands(inputCh)

	fmt.Println("commands: n(ext) b(ack) p(ause) r(esume) s <sec> m <track|album> q(uit)")
	for {
		select {
		case <-sigCh:
			zlog.Info().Msg("Received shutdown signal...")
			controller.Stop()
			return nil
		case line, ok := <-inputCh:
			if !ok {
				// stdin closed; keep playing until signalled.
				inputCh = nil
				continue
			}
			if quit := handleCommand(controller, line); quit {
				controller.Stop()
				return nil
			}
		}
	}
}

func readCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

// handleCommand applies one console command. Returns true to quit.
func handleCommand(c *playback.Controller, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "q", "quit":
		return true
	case "n", "next":
		err = c.SkipNext()
	case "b", "back", "prev":
		err = c.SkipPrevious()
	case "p", "pause":
		err = c.Pause()
	case "r", "resume", "play":
		err = c.Play()
	case "s", "seek":
		if len(fields) < 2 {
			fmt.Println("usage: s <seconds>")
			return false
		}
		var sec float64
		if sec, err = strconv.ParseFloat(fields[1], 64); err == nil {
			err = c.Seek(time.Duration(sec * float64(time.Second)))
		}
	case "m", "mode":
		if len(fields) < 2 {
			fmt.Printf("mode: %s\n", c.Mode())
			return false
		}
		var mode replaygain.Mode
		if mode, err = replaygain.ParseMode(fields[1]); err == nil {
			c.SetMode(mode)
		}
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
	return false
}

func printEvents(events <-chan playback.Event) {
	for ev := range events {
		switch ev.Type {
		case playback.EventTrackChanged:
			if ev.Entry != nil {
				fmt.Printf("\n▶ %s\n", ev.Entry.Track.DisplayName())
			}
		case playback.EventStatusChanged:
			zlog.Debug().Msgf("status: %s", ev.Status)
		case playback.EventFailure:
			zlog.Warn().Err(ev.Err).Msgf("playback failure (%s)", ev.Failure)
		case playback.EventPositionTick:
			if ev.Duration > 0 {
				fmt.Printf("\r%s / %s ",
					ev.Position.Truncate(time.Second),
					ev.Duration.Truncate(time.Second))
			}
		}
	}
}
